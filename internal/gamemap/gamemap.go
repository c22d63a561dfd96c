package gamemap

import (
	"encoding/binary"

	"scriptgame_gamemaster/internal/dice"
	"scriptgame_gamemaster/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// типы клеток; стартовая клетка хранится отдельным маркером,
// исходный тип под ней запоминается в StartingPosition
const (
	LandDepleted = 0
	LandCommon   = 1
	LandUncommon = 2
	LandRare     = 3
	LandStart    = 9 // маркер стартовой позиции
)

// очки за добычу по типу клетки
var TilePoints = map[int]int64{
	LandDepleted: 0,
	LandCommon:   1,
	LandUncommon: 5,
	LandRare:     10,
	LandStart:    25,
}

// StartingPosition - клетка старта и исходный тип земли под маркером
type StartingPosition struct {
	X                int `json:"x"`
	Y                int `json:"y"`
	OriginalLandType int `json:"originalLandType"`
}

// Map - сгенерированная карта игры, size x size клеток.
// Land индексируется Land[y][x], построчно.
type Map struct {
	Size  int
	Land  [][]int
	Start StartingPosition
}

// SizeForPlayers - размер карты, фиксируется при закрытии игры.
// Авторитетное правило: 1 + 4*playerCount (поле mapSize контракта).
func SizeForPlayers(playerCount int) int {
	return 1 + 4*playerCount
}

// RandomHash вычисляет keccak256(commitBlockHash || reveal) - то же
// значение, что считает контракт; им сидируется вся генерация
func RandomHash(commitBlockHash common.Hash, reveal [32]byte) common.Hash {
	return crypto.Keccak256Hash(commitBlockHash.Bytes(), reveal[:])
}

// Generate строит карту из random hash. Для каждой клетки построчно
// бросается один полубайт: 0-10 common, 11-14 uncommon, 15 rare.
// Затем два полубайта на x и два на y задают стартовую клетку.
func Generate(randomHash common.Hash, size int) *Map {
	d := dice.New([32]byte(randomHash))

	land := make([][]int, size)
	for y := 0; y < size; y++ {
		land[y] = make([]int, size)
		for x := 0; x < size; x++ {
			land[y][x] = rollTile(d)
		}
	}

	sx := int(d.Roll(2)) % size
	sy := int(d.Roll(2)) % size

	m := &Map{
		Size: size,
		Land: land,
		Start: StartingPosition{
			X:                sx,
			Y:                sy,
			OriginalLandType: land[sy][sx],
		},
	}
	m.Land[sy][sx] = LandStart
	return m
}

func rollTile(d *dice.Dice) int {
	switch v := d.Roll(1); {
	case v <= 10:
		return LandCommon
	case v <= 14:
		return LandUncommon
	default:
		return LandRare
	}
}

// StartingCell возвращает детерминированную стартовую клетку игрока.
// Сид: keccak256(randomHash || address || gameId be64); функция тотальна,
// результат всегда в [0,size) по обеим осям.
func StartingCell(randomHash common.Hash, addr common.Address, gameID uint64, size int) domain.Position {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], gameID)

	seed := crypto.Keccak256Hash(randomHash.Bytes(), addr.Bytes(), id[:])
	d := dice.New([32]byte(seed))

	return domain.Position{
		X: int(d.Roll(2)) % size,
		Y: int(d.Roll(2)) % size,
	}
}

// TileAt возвращает тип клетки с нормализацией координат на торе
func (m *Map) TileAt(p domain.Position) int {
	return m.Land[Wrap(p.Y, m.Size)][Wrap(p.X, m.Size)]
}

// SetTile записывает тип клетки с нормализацией координат
func (m *Map) SetTile(p domain.Position, tile int) {
	m.Land[Wrap(p.Y, m.Size)][Wrap(p.X, m.Size)] = tile
}

// Wrap нормализует координату на тор: результат всегда в [0, size)
func Wrap(c, size int) int {
	return ((c % size) + size) % size
}
