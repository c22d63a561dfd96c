package session

import (
	"errors"
	"testing"
	"time"

	"scriptgame_gamemaster/internal/domain"
	"scriptgame_gamemaster/internal/gamemap"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	testAddrA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testAddrB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func testSession(t *testing.T, players ...common.Address) (*Session, common.Hash) {
	t.Helper()
	rh := gamemap.RandomHash(common.HexToHash("0xfeed"), [32]byte{13})
	size := gamemap.SizeForPlayers(len(players))
	if len(players) == 0 {
		size = 5
	}
	m := gamemap.Generate(rh, size)
	return New(7, m, rh, players), rh
}

func TestNewAssignsDeterministicStart(t *testing.T) {
	s1, rh := testSession(t, testAddrA, testAddrB)
	s2, _ := testSession(t, testAddrA, testAddrB)

	v1, err := s1.View(testAddrA.Hex())
	require.NoError(t, err)
	v2, err := s2.View(testAddrA.Hex())
	require.NoError(t, err)

	require.Equal(t, v1.Position, v2.Position)
	require.Equal(t, gamemap.StartingCell(rh, testAddrA, 7, s1.m.Size), v1.Position)
	require.Equal(t, domain.MaxMoves, v1.MovesRemaining)
	require.Equal(t, domain.MaxMines, v1.MinesRemaining)
	require.EqualValues(t, 0, v1.Score)
}

func TestViewWindowShape(t *testing.T) {
	s, _ := testSession(t, testAddrA)
	v, err := s.View(testAddrA.Hex())
	require.NoError(t, err)

	require.Len(t, v.Window, 3)
	for _, row := range v.Window {
		require.Len(t, row, 3)
	}

	// центральная клетка - позиция игрока, помечена им
	center := v.Window[1][1]
	require.Equal(t, v.Position, center.Coordinates)
	require.Equal(t, testAddrA.Hex(), center.Player)
}

func TestViewUnknownPlayer(t *testing.T) {
	s, _ := testSession(t, testAddrA)
	_, err := s.View(testAddrB.Hex())
	require.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestMoveEastWrapsTorus(t *testing.T) {
	// сценарий: 12 ходов east на карте 5x5 - итоговый x = (x0+12) mod 5
	s, _ := testSession(t, testAddrA)
	s.Start()
	defer s.Stop()

	v, err := s.View(testAddrA.Hex())
	require.NoError(t, err)
	x0 := v.Position.X

	var last *PlayerView
	for i := 0; i < domain.MaxMoves; i++ {
		last, err = s.Move(testAddrA.Hex(), "east")
		require.NoError(t, err)
	}

	require.Equal(t, gamemap.Wrap(x0+12, 5), last.Position.X)
	require.Equal(t, v.Position.Y, last.Position.Y)
	require.Equal(t, 0, last.MovesRemaining)

	_, err = s.Move(testAddrA.Hex(), "east")
	require.ErrorIs(t, err, ErrNoMovesRemaining)
}

func TestMoveDirectionsCaseInsensitive(t *testing.T) {
	s, _ := testSession(t, testAddrA)
	s.Start()
	defer s.Stop()

	for _, dir := range []string{"North", "  south ", "EAST", "west", "NorthEast", "northwest", "SOUTHEAST", "southwest"} {
		_, err := s.Move(testAddrA.Hex(), dir)
		require.NoError(t, err, "направление %q", dir)
	}

	_, err := s.Move(testAddrA.Hex(), "up")
	require.ErrorIs(t, err, ErrInvalidDirection)
	_, err = s.Move(testAddrA.Hex(), "")
	require.ErrorIs(t, err, ErrInvalidDirection)
}

func TestMoveBudgetsMonotonic(t *testing.T) {
	s, _ := testSession(t, testAddrA)
	s.Start()
	defer s.Stop()

	prev := domain.MaxMoves
	for i := 0; i < 5; i++ {
		v, err := s.Move(testAddrA.Hex(), "north")
		require.NoError(t, err)
		require.Equal(t, prev-1, v.MovesRemaining)
		prev = v.MovesRemaining
	}
}

func TestMineScoresAndDepletes(t *testing.T) {
	s, _ := testSession(t, testAddrA)
	s.Start()
	defer s.Stop()

	v, err := s.View(testAddrA.Hex())
	require.NoError(t, err)
	tile := v.Tile
	require.NotEqual(t, gamemap.LandDepleted, tile, "стартовая генерация не дает истощенных клеток")

	points, after, err := s.Mine(testAddrA.Hex())
	require.NoError(t, err)
	require.Equal(t, gamemap.TilePoints[tile], points)
	require.Equal(t, points, after.Score)
	require.Equal(t, domain.MaxMines-1, after.MinesRemaining)
	require.Equal(t, gamemap.LandDepleted, after.Tile)

	// повторная добыча той же клетки
	_, _, err = s.Mine(testAddrA.Hex())
	require.ErrorIs(t, err, ErrTileDepleted)
}

func TestMineBudgetExhausted(t *testing.T) {
	s, _ := testSession(t, testAddrA)
	s.Start()
	defer s.Stop()

	mined := 0
	for mined < domain.MaxMines {
		_, _, err := s.Mine(testAddrA.Hex())
		if errors.Is(err, ErrTileDepleted) {
			_, err = s.Move(testAddrA.Hex(), "east")
			require.NoError(t, err)
			continue
		}
		require.NoError(t, err)
		mined++
	}

	_, _, err := s.Mine(testAddrA.Hex())
	require.ErrorIs(t, err, ErrNoMinesRemaining)
}

func TestTimerExpirySnapsBudgets(t *testing.T) {
	s, _ := testSession(t, testAddrA, testAddrB)
	s.Start()
	defer s.Stop()

	s.expireAll()

	require.Equal(t, time.Duration(0), s.TimeRemaining())

	_, err := s.Move(testAddrA.Hex(), "north")
	require.ErrorIs(t, err, ErrTimerExpired)
	_, _, err = s.Mine(testAddrB.Hex())
	require.ErrorIs(t, err, ErrTimerExpired)

	for _, p := range s.Snapshot() {
		require.Equal(t, 0, p.MovesRemaining)
		require.Equal(t, 0, p.MinesRemaining)
	}
}

func TestAllFinished(t *testing.T) {
	s, _ := testSession(t, testAddrA)
	s.Start()
	defer s.Stop()

	require.False(t, s.AllFinished())

	// исчерпание добычи заканчивает игрока
	mined := 0
	for mined < domain.MaxMines {
		_, _, err := s.Mine(testAddrA.Hex())
		if errors.Is(err, ErrTileDepleted) {
			_, err = s.Move(testAddrA.Hex(), "south")
			require.NoError(t, err)
			continue
		}
		require.NoError(t, err)
		mined++
	}
	require.True(t, s.AllFinished())
}

func TestAllFinishedVacuousForZeroPlayers(t *testing.T) {
	s, _ := testSession(t)
	require.True(t, s.AllFinished())
}

func TestSnapshot(t *testing.T) {
	s, _ := testSession(t, testAddrA, testAddrB)
	snap := s.Snapshot()
	require.Len(t, snap, 2)
	for _, p := range snap {
		require.Equal(t, domain.MaxMoves, p.MovesRemaining)
		require.Equal(t, domain.MaxMines, p.MinesRemaining)
		require.EqualValues(t, 0, p.Score)
	}
}
