package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// счетчики и датчики демона; регистрируются в дефолтном реестре,
// отдается через promhttp на ops-порту
var (
	GamesDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gamemaster_games_discovered_total",
		Help: "Games discovered via historical scan or live events.",
	})

	GamesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gamemaster_games_completed_total",
		Help: "Games that reached the COMPLETE phase.",
	})

	GamesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gamemaster_games_expired_total",
		Help: "Games marked expired: stale or unavailable commit block hash, or lost reveal secret.",
	})

	PayoutsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gamemaster_payouts_submitted_total",
		Help: "Successful payout transactions.",
	})

	RevealsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gamemaster_reveals_submitted_total",
		Help: "Successful reveal transactions.",
	})

	ChainTxErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamemaster_chain_tx_errors_total",
		Help: "Failed contract writes by operation.",
	}, []string{"op"})

	ActiveServers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gamemaster_active_game_servers",
		Help: "Game API listeners currently running.",
	})

	RegistrySize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gamemaster_registry_games",
		Help: "Games currently tracked by the orchestrator.",
	})
)
