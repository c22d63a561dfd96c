package service

import (
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var testContract = common.HexToAddress("0x1234567890123456789012345678901234567890")

// подписывает challenge как это делает кошелек: personal_sign с V=27/28
func signChallenge(t *testing.T, a *AuthService, gameID uint64, ts int64, keyHex string) (string, string) {
	t.Helper()
	key, err := crypto.HexToECDSA(keyHex)
	require.NoError(t, err)

	msg := a.ChallengeMessage(gameID, ts)
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27

	return crypto.PubkeyToAddress(key.PublicKey).Hex(), hexutil.Encode(sig)
}

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func TestChallengeMessageFormat(t *testing.T) {
	a := NewAuthService(testContract, "base-secret")
	msg := a.ChallengeMessage(12, 1700000000000)

	require.Contains(t, msg, "Sign this message to authenticate with the game server.")
	require.Contains(t, msg, "Contract: "+testContract.Hex())
	require.Contains(t, msg, "GameId: 12")
	require.Contains(t, msg, "Namespace: ScriptGame")
	require.Contains(t, msg, "Timestamp: 1700000000000")
	require.Contains(t, msg, "This signature is valid for 5 minutes.")
}

func TestVerifySignatureValid(t *testing.T) {
	a := NewAuthService(testContract, "base-secret")
	ts := time.Now().UnixMilli()

	addr, sig := signChallenge(t, a, 3, ts, testKey)
	require.NoError(t, a.VerifySignature(3, addr, sig, ts))

	// регистр адреса не важен
	require.NoError(t, a.VerifySignature(3, strings.ToLower(addr), sig, ts))
}

func TestVerifySignatureWrongAddress(t *testing.T) {
	a := NewAuthService(testContract, "base-secret")
	ts := time.Now().UnixMilli()

	_, sig := signChallenge(t, a, 3, ts, testKey)
	err := a.VerifySignature(3, "0x00000000000000000000000000000000000000ff", sig, ts)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifySignatureWrongGame(t *testing.T) {
	// подпись для игры 3 не проходит для игры 4: gameId входит в сообщение
	a := NewAuthService(testContract, "base-secret")
	ts := time.Now().UnixMilli()

	addr, sig := signChallenge(t, a, 3, ts, testKey)
	err := a.VerifySignature(4, addr, sig, ts)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifySignatureStaleTimestamp(t *testing.T) {
	a := NewAuthService(testContract, "base-secret")
	ts := time.Now().Add(-6 * time.Minute).UnixMilli()

	addr, sig := signChallenge(t, a, 3, ts, testKey)
	err := a.VerifySignature(3, addr, sig, ts)
	require.ErrorIs(t, err, ErrStaleChallenge)
}

func TestVerifySignatureRecoveryIDVariants(t *testing.T) {
	// принимаем и V=0/1, и V=27/28
	a := NewAuthService(testContract, "base-secret")
	ts := time.Now().UnixMilli()

	key, err := crypto.HexToECDSA(testKey)
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	msg := a.ChallengeMessage(9, ts)
	raw, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	require.NoError(t, err)

	require.NoError(t, a.VerifySignature(9, addr, hexutil.Encode(raw), ts))

	withOffset := append([]byte(nil), raw...)
	withOffset[crypto.RecoveryIDOffset] += 27
	require.NoError(t, a.VerifySignature(9, addr, hexutil.Encode(withOffset), ts))
}

func TestTokenRoundTrip(t *testing.T) {
	a := NewAuthService(testContract, "base-secret")

	token, expiresIn, err := a.IssueToken(5, "0x00000000000000000000000000000000000000A1")
	require.NoError(t, err)
	require.EqualValues(t, 3600, expiresIn)

	addr, err := a.ValidateToken(token, 5)
	require.NoError(t, err)
	require.Equal(t, "0x00000000000000000000000000000000000000a1", addr)
}

func TestTokenScopedToGame(t *testing.T) {
	a := NewAuthService(testContract, "base-secret")

	token, _, err := a.IssueToken(5, "0x00000000000000000000000000000000000000a1")
	require.NoError(t, err)

	_, err = a.ValidateToken(token, 6)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenScopedToContract(t *testing.T) {
	// секрет включает адрес контракта: токен одного контракта
	// не валиден у другого
	a := NewAuthService(testContract, "base-secret")
	b := NewAuthService(common.HexToAddress("0x9999999999999999999999999999999999999999"), "base-secret")

	token, _, err := a.IssueToken(5, "0x00000000000000000000000000000000000000a1")
	require.NoError(t, err)

	_, err = b.ValidateToken(token, 5)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenGarbage(t *testing.T) {
	a := NewAuthService(testContract, "base-secret")
	_, err := a.ValidateToken("not-a-token", 1)
	require.ErrorIs(t, err, ErrInvalidToken)
}
