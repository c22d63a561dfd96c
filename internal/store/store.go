package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"scriptgame_gamemaster/internal/domain"
	"scriptgame_gamemaster/internal/gamemap"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ArtifactStore - плоское файловое хранилище артефактов игр.
// Три ключа на игру: reveal, map, scores. Единственная персистентность
// между перезапусками демона.
type ArtifactStore struct {
	dir string
}

// New создает хранилище в каталоге dir (каталог создается при необходимости)
func New(dir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("создание каталога артефактов: %w", err)
	}
	return &ArtifactStore{dir: dir}, nil
}

func (s *ArtifactStore) revealPath(gameID uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("reveal_%d", gameID))
}

func (s *ArtifactStore) mapPath(gameID uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("map_%d", gameID))
}

func (s *ArtifactStore) scoresPath(gameID uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("scores_%d", gameID))
}

// запись через временный файл + rename; выдерживает штатную остановку
func (s *ArtifactStore) writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SaveReveal сохраняет 32-байтный секрет как 0x-hex строку
func (s *ArtifactStore) SaveReveal(gameID uint64, reveal [32]byte) error {
	if err := s.writeFile(s.revealPath(gameID), []byte(hexutil.Encode(reveal[:]))); err != nil {
		return fmt.Errorf("сохранение reveal для игры %d: %w", gameID, err)
	}
	return nil
}

// LoadReveal читает сохраненный секрет
func (s *ArtifactStore) LoadReveal(gameID uint64) ([32]byte, error) {
	var reveal [32]byte
	data, err := os.ReadFile(s.revealPath(gameID))
	if err != nil {
		return reveal, fmt.Errorf("чтение reveal для игры %d: %w", gameID, err)
	}
	raw, err := hexutil.Decode(string(data))
	if err != nil {
		return reveal, fmt.Errorf("декодирование reveal для игры %d: %w", gameID, err)
	}
	if len(raw) != 32 {
		return reveal, fmt.Errorf("reveal игры %d имеет длину %d, ожидалось 32", gameID, len(raw))
	}
	copy(reveal[:], raw)
	return reveal, nil
}

// HasReveal сообщает, сохранен ли секрет для игры
func (s *ArtifactStore) HasReveal(gameID uint64) bool {
	_, err := os.Stat(s.revealPath(gameID))
	return err == nil
}

type mapMetadata struct {
	Generated   string `json:"generated"`
	GameID      uint64 `json:"gameId"`
	RevealValue string `json:"revealValue"`
	RandomHash  string `json:"randomHash"`
}

type mapFile struct {
	Size             int                      `json:"size"`
	Land             [][]any                  `json:"land"`
	StartingPosition gamemap.StartingPosition `json:"startingPosition"`
	Metadata         mapMetadata              `json:"metadata"`
}

// SaveMap сохраняет сгенерированную карту; стартовая клетка
// сериализуется как "X", остальные клетки как числа
func (s *ArtifactStore) SaveMap(gameID uint64, m *gamemap.Map, reveal [32]byte, randomHash common.Hash) error {
	land := make([][]any, m.Size)
	for y, row := range m.Land {
		land[y] = make([]any, m.Size)
		for x, tile := range row {
			if tile == gamemap.LandStart {
				land[y][x] = "X"
			} else {
				land[y][x] = tile
			}
		}
	}

	f := mapFile{
		Size:             m.Size,
		Land:             land,
		StartingPosition: m.Start,
		Metadata: mapMetadata{
			Generated:   time.Now().UTC().Format(time.RFC3339),
			GameID:      gameID,
			RevealValue: hexutil.Encode(reveal[:]),
			RandomHash:  randomHash.Hex(),
		},
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("сериализация карты игры %d: %w", gameID, err)
	}
	if err := s.writeFile(s.mapPath(gameID), data); err != nil {
		return fmt.Errorf("сохранение карты игры %d: %w", gameID, err)
	}
	return nil
}

// LoadMap читает карту; отсутствующий или поврежденный файл
// возвращается ошибкой
func (s *ArtifactStore) LoadMap(gameID uint64) (*gamemap.Map, error) {
	data, err := os.ReadFile(s.mapPath(gameID))
	if err != nil {
		return nil, fmt.Errorf("чтение карты игры %d: %w", gameID, err)
	}

	var f mapFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("разбор карты игры %d: %w", gameID, err)
	}

	land := make([][]int, f.Size)
	for y := 0; y < f.Size; y++ {
		if y >= len(f.Land) || len(f.Land[y]) != f.Size {
			return nil, fmt.Errorf("карта игры %d повреждена: неверная форма land", gameID)
		}
		land[y] = make([]int, f.Size)
		for x, cell := range f.Land[y] {
			switch v := cell.(type) {
			case string:
				if v != "X" {
					return nil, fmt.Errorf("карта игры %d повреждена: клетка %q", gameID, v)
				}
				land[y][x] = gamemap.LandStart
			case float64:
				land[y][x] = int(v)
			default:
				return nil, fmt.Errorf("карта игры %d повреждена: клетка типа %T", gameID, cell)
			}
		}
	}

	return &gamemap.Map{
		Size:  f.Size,
		Land:  land,
		Start: f.StartingPosition,
	}, nil
}

// HasMap сообщает, сгенерирована ли карта для игры
func (s *ArtifactStore) HasMap(gameID uint64) bool {
	_, err := os.Stat(s.mapPath(gameID))
	return err == nil
}

// PlayerScore - итоговая запись игрока в артефакте scores
type PlayerScore struct {
	Address        string          `json:"address"`
	Position       domain.Position `json:"position"`
	Tile           int             `json:"tile"`
	Score          int64           `json:"score"`
	MovesRemaining int             `json:"movesRemaining"`
	MinesRemaining int             `json:"minesRemaining"`
}

// ScoresArtifact - файл scores_<gameId>
type ScoresArtifact struct {
	GameID  uint64        `json:"gameId"`
	Players []PlayerScore `json:"players"`
	Count   int           `json:"count"`
	SavedAt string        `json:"savedAt"`
}

// SaveScores сохраняет финальные результаты игры
func (s *ArtifactStore) SaveScores(gameID uint64, players []PlayerScore) error {
	artifact := ScoresArtifact{
		GameID:  gameID,
		Players: players,
		Count:   len(players),
		SavedAt: time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("сериализация результатов игры %d: %w", gameID, err)
	}
	if err := s.writeFile(s.scoresPath(gameID), data); err != nil {
		return fmt.Errorf("сохранение результатов игры %d: %w", gameID, err)
	}
	return nil
}

// LoadScores читает сохраненные результаты
func (s *ArtifactStore) LoadScores(gameID uint64) (*ScoresArtifact, error) {
	data, err := os.ReadFile(s.scoresPath(gameID))
	if err != nil {
		return nil, fmt.Errorf("чтение результатов игры %d: %w", gameID, err)
	}
	var artifact ScoresArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("разбор результатов игры %d: %w", gameID, err)
	}
	return &artifact, nil
}

// HasScores сообщает, сохранены ли результаты для игры
func (s *ArtifactStore) HasScores(gameID uint64) bool {
	_, err := os.Stat(s.scoresPath(gameID))
	return err == nil
}
