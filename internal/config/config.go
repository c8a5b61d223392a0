// Package config loads client configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds everything the autoclient needs to run a game: the two
// agent credentials, server endpoints, and the optional history sinks.
type Config struct {
	RESTBaseURL string // e.g. http://localhost:8080
	WSURL       string // e.g. ws://localhost:8080/ws/lobby

	TokenA string // bearer credential for agent A (lobby host)
	TokenB string // bearer credential for agent B

	LogDir string // per-run log files and the final history artifact

	// Optional sinks. Empty disables the corresponding sink.
	RedisAddr     string // historian action queue
	HistoryDBPath string // sqlite file for the final game-history artifact

	MaxPlayers int
}

// Load reads .env (if present) and the process environment.
// Both agent tokens are required; everything else has a default.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := &Config{
		RESTBaseURL:   getenv("GEODUEL_REST_BASE", "http://localhost:8080"),
		WSURL:         getenv("GEODUEL_WS_URL", "ws://localhost:8080/ws/lobby"),
		TokenA:        os.Getenv("GEODUEL_TOKEN_A"),
		TokenB:        os.Getenv("GEODUEL_TOKEN_B"),
		LogDir:        getenv("GEODUEL_LOG_DIR", "logs"),
		RedisAddr:     os.Getenv("GEODUEL_REDIS_ADDR"),
		HistoryDBPath: os.Getenv("GEODUEL_HISTORY_DB"),
		MaxPlayers:    getenvInt("GEODUEL_MAX_PLAYERS", 2),
	}

	if cfg.TokenA == "" || cfg.TokenB == "" {
		return nil, fmt.Errorf("config: GEODUEL_TOKEN_A and GEODUEL_TOKEN_B must be set")
	}
	if cfg.TokenA == cfg.TokenB {
		return nil, fmt.Errorf("config: agent tokens must differ")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
