package gamemap

import (
	"testing"

	"scriptgame_gamemaster/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	cases := []struct {
		c, size, want int
	}{
		{0, 5, 0},
		{4, 5, 4},
		{5, 5, 0},
		{17, 5, 2},
		{-1, 5, 4},
		{-6, 5, 4},
		{-5, 5, 0},
		{0, 1, 0},
		{-100, 1, 0},
	}
	for _, tc := range cases {
		if got := Wrap(tc.c, tc.size); got != tc.want {
			t.Errorf("Wrap(%d, %d) = %d, ожидалось %d", tc.c, tc.size, got, tc.want)
		}
	}
}

func TestWrapAlwaysInRange(t *testing.T) {
	for size := 1; size <= 9; size++ {
		for c := -50; c <= 50; c++ {
			got := Wrap(c, size)
			if got < 0 || got >= size {
				t.Fatalf("Wrap(%d, %d) = %d вне [0, %d)", c, size, got, size)
			}
		}
	}
}

func TestSizeForPlayers(t *testing.T) {
	require.Equal(t, 5, SizeForPlayers(1))
	require.Equal(t, 9, SizeForPlayers(2))
	require.Equal(t, 13, SizeForPlayers(3))
	require.Equal(t, 1, SizeForPlayers(0))
}

func TestGenerateDeterministic(t *testing.T) {
	blockHash := common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	var reveal [32]byte
	copy(reveal[:], []byte("super-secret-reveal-value-32b!!!"))

	rh1 := RandomHash(blockHash, reveal)
	rh2 := RandomHash(blockHash, reveal)
	require.Equal(t, rh1, rh2, "random hash должен быть детерминированным")

	a := Generate(rh1, 9)
	b := Generate(rh2, 9)
	require.Equal(t, a.Land, b.Land)
	require.Equal(t, a.Start, b.Start)
}

func TestGenerateDiffersByReveal(t *testing.T) {
	blockHash := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")
	var r1, r2 [32]byte
	r1[0] = 1
	r2[0] = 2

	if RandomHash(blockHash, r1) == RandomHash(blockHash, r2) {
		t.Fatal("разные reveal дали одинаковый random hash")
	}
}

func TestGenerateShape(t *testing.T) {
	rh := RandomHash(common.HexToHash("0xabc0"), [32]byte{7})
	size := SizeForPlayers(2)
	m := Generate(rh, size)

	require.Equal(t, size, m.Size)
	require.Len(t, m.Land, size)

	startSeen := 0
	for y, row := range m.Land {
		require.Len(t, row, size)
		for x, tile := range row {
			switch tile {
			case LandCommon, LandUncommon, LandRare:
			case LandStart:
				startSeen++
				require.Equal(t, m.Start.X, x)
				require.Equal(t, m.Start.Y, y)
			default:
				t.Fatalf("неожиданный тип клетки %d в (%d,%d)", tile, x, y)
			}
		}
	}
	require.Equal(t, 1, startSeen, "стартовый маркер должен быть ровно один")

	// исходный тип под маркером - реальный тип земли
	switch m.Start.OriginalLandType {
	case LandCommon, LandUncommon, LandRare:
	default:
		t.Fatalf("неожиданный исходный тип стартовой клетки: %d", m.Start.OriginalLandType)
	}
}

func TestStartingCellTotalAndStable(t *testing.T) {
	rh := RandomHash(common.HexToHash("0xdead"), [32]byte{42})
	addr := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	p1 := StartingCell(rh, addr, 7, 5)
	p2 := StartingCell(rh, addr, 7, 5)
	require.Equal(t, p1, p2)

	for gameID := uint64(0); gameID < 20; gameID++ {
		p := StartingCell(rh, addr, gameID, 5)
		if p.X < 0 || p.X >= 5 || p.Y < 0 || p.Y >= 5 {
			t.Fatalf("стартовая клетка вне карты: %+v", p)
		}
	}

	// другой адрес почти наверняка дает другую клетку хотя бы для одного из сидов
	other := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	differs := false
	for gameID := uint64(0); gameID < 20; gameID++ {
		if StartingCell(rh, addr, gameID, 25) != StartingCell(rh, other, gameID, 25) {
			differs = true
			break
		}
	}
	require.True(t, differs)
}

func TestTileAtWrapsTorus(t *testing.T) {
	rh := RandomHash(common.HexToHash("0x01"), [32]byte{9})
	m := Generate(rh, 5)

	p := domain.Position{X: 7, Y: -3}
	require.Equal(t, m.Land[2][2], m.TileAt(p))

	m.SetTile(p, LandDepleted)
	require.Equal(t, LandDepleted, m.Land[2][2])
}
