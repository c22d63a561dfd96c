package service

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestCommitHashOf(t *testing.T) {
	var reveal [32]byte
	copy(reveal[:], []byte("reveal-value"))

	h1 := CommitHashOf(reveal)
	h2 := CommitHashOf(reveal)
	require.Equal(t, h1, h2)
	require.Equal(t, crypto.Keccak256Hash(reveal[:]), h1)

	reveal[0] ^= 1
	require.NotEqual(t, h1, CommitHashOf(reveal))
}

func TestGamePort(t *testing.T) {
	require.Equal(t, 8000, GamePort(0))
	require.Equal(t, 8007, GamePort(7))
	require.Equal(t, 8123, GamePort(123))
}

func TestServerURL(t *testing.T) {
	// база со схемой: порт добавляется как есть
	p := &CommitReveal{apiBase: "https://games.example.org"}
	require.Equal(t, "https://games.example.org:8004", p.ServerURL(4))

	// база без схемы: схема выбирается по TLS
	p = &CommitReveal{apiBase: "localhost"}
	require.Equal(t, "http://localhost:8001", p.ServerURL(1))

	p = &CommitReveal{apiBase: "localhost", tls: true}
	require.Equal(t, "https://localhost:8001", p.ServerURL(1))

	// завершающий слеш не ломает URL
	p = &CommitReveal{apiBase: "http://localhost/"}
	require.Equal(t, "http://localhost:8002", p.ServerURL(2))
}
