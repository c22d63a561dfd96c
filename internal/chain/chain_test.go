package chain

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func testABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	require.NoError(t, err)
	return parsed
}

func TestABIParses(t *testing.T) {
	parsed := testABI(t)

	for _, m := range []string{"getGameInfo", "getCommitRevealState", "getPayoutInfo", "getPlayers", "getCommitBlockHash", "commitHash", "storeCommitBlockHash", "revealHash", "payout"} {
		_, ok := parsed.Methods[m]
		require.True(t, ok, "метод %s отсутствует в ABI", m)
	}
	for _, e := range []string{"GameCreated", "GameOpened", "GameClosed", "HashCommitted"} {
		_, ok := parsed.Events[e]
		require.True(t, ok, "событие %s отсутствует в ABI", e)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want error
	}{
		{"err: insufficient funds for gas * price + value", ErrInsufficientFunds},
		{"execution reverted: Block not ready", ErrBlockNotReady},
		{"execution reverted: commit block not reached", ErrBlockNotReady},
		{"execution reverted: Block hash unavailable", ErrBlockHashUnavailable},
		{"execution reverted: blockhash not available", ErrBlockHashUnavailable},
		{"execution reverted: Not authorized", ErrNotAuthorized},
		{"execution reverted: only gamemaster", ErrNotAuthorized},
	}
	for _, tc := range cases {
		got := classify(errors.New(tc.msg))
		require.ErrorIs(t, got, tc.want, "сообщение %q", tc.msg)
	}
}

func TestClassifyUnknownBecomesRevert(t *testing.T) {
	got := classify(errors.New("execution reverted: something else"))
	var revert *RevertError
	require.ErrorAs(t, got, &revert)
	require.Contains(t, revert.Detail, "something else")
}

func TestClassifyNil(t *testing.T) {
	require.NoError(t, classify(nil))
}

func TestParseLogGameCreated(t *testing.T) {
	parsed := testABI(t)
	c := &Client{abi: parsed}

	gm := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	creator := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	stake := big.NewInt(1_000_000_000)

	lg := types.Log{
		Topics: []common.Hash{
			parsed.Events["GameCreated"].ID,
			common.BigToHash(big.NewInt(7)),
			common.BytesToHash(gm.Bytes()),
			common.BytesToHash(creator.Bytes()),
		},
		Data:        common.BigToHash(stake).Bytes(),
		BlockNumber: 1234,
	}

	ev, err := c.parseLog(lg)
	require.NoError(t, err)
	require.Equal(t, EventGameCreated, ev.Kind)
	require.EqualValues(t, 7, ev.GameID)
	require.Equal(t, gm, ev.Gamemaster)
	require.Equal(t, creator, ev.Creator)
	require.Equal(t, stake, ev.StakeAmount)
	require.EqualValues(t, 1234, ev.BlockNumber)
}

func TestParseLogGameClosed(t *testing.T) {
	parsed := testABI(t)
	c := &Client{abi: parsed}

	lg := types.Log{
		Topics: []common.Hash{
			parsed.Events["GameClosed"].ID,
			common.BigToHash(big.NewInt(3)),
		},
		Data: common.BigToHash(big.NewInt(2)).Bytes(),
	}

	ev, err := c.parseLog(lg)
	require.NoError(t, err)
	require.Equal(t, EventGameClosed, ev.Kind)
	require.EqualValues(t, 3, ev.GameID)
	require.Equal(t, 2, ev.PlayerCount)
}

func TestParseLogUnknownTopic(t *testing.T) {
	parsed := testABI(t)
	c := &Client{abi: parsed}

	_, err := c.parseLog(types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}})
	require.Error(t, err)

	_, err = c.parseLog(types.Log{})
	require.Error(t, err)
}
