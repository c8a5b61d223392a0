package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SoPra-FS25-Group-15/sopra-fs25-group-15-client/internal/config"
	"github.com/SoPra-FS25-Group-15/sopra-fs25-group-15-client/internal/game"
	"github.com/SoPra-FS25-Group-15/sopra-fs25-group-15-client/internal/history"
	"github.com/SoPra-FS25-Group-15/sopra-fs25-group-15-client/internal/lobby"
	"github.com/SoPra-FS25-Group-15/sopra-fs25-group-15-client/internal/transport"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("autoclient failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	start := time.Now()
	log, closeLog, err := setupLogger(cfg.LogDir, start)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder, err := buildRecorder(cfg, log, start)
	if err != nil {
		return err
	}

	lobbyClient := &lobby.Client{
		BaseURL: cfg.RESTBaseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		Log:     log.WithField("component", "lobby"),
	}
	// The lobby must stay public so the second agent can join by code.
	lob, err := lobbyClient.Create(ctx, cfg.TokenA, lobby.CreateRequest{
		MaxPlayers:     cfg.MaxPlayers,
		PlayersPerTeam: 1,
		Private:        false,
	})
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"lobbyId": lob.LobbyID, "code": lob.Code}).Info("lobby created")

	sessionA, err := transport.Connect(ctx, cfg.WSURL, cfg.TokenA, log.WithField("agent", "A"))
	if err != nil {
		return err
	}
	defer sessionA.Close()

	sessionB, err := transport.Connect(ctx, cfg.WSURL, cfg.TokenB, log.WithField("agent", "B"))
	if err != nil {
		return err
	}
	defer sessionB.Close()

	runner := game.NewRunner(game.RunnerConfig{
		LobbyID:   lob.LobbyID,
		LobbyCode: lob.Code,
		TokenA:    cfg.TokenA,
		TokenB:    cfg.TokenB,
		SessionA:  sessionA,
		SessionB:  sessionB,
		Recorder:  recorder,
		Log:       log,
		Timings:   game.DefaultTimings(),
	})
	return runner.Run(ctx)
}

// setupLogger writes to stdout and a per-run log file.
func setupLogger(dir string, start time.Time) (*logrus.Entry, func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("game-%s.log", start.Format("2006-01-02T15-04-05")))
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating log file: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.MultiWriter(os.Stdout, f))
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(logger), func() { f.Close() }, nil
}

// buildRecorder assembles the history sinks: the file sink always, the
// optional redis action queue and sqlite artifact store when
// configured.
func buildRecorder(cfg *config.Config, log *logrus.Entry, start time.Time) (*history.Recorder, error) {
	fileSink, err := history.NewFileSink(cfg.LogDir, start)
	if err != nil {
		return nil, err
	}
	sinks := []history.Sink{fileSink}

	if cfg.RedisAddr != "" {
		sinks = append(sinks, history.NewRedisSink(cfg.RedisAddr, start.Format(time.RFC3339)))
	}
	if cfg.HistoryDBPath != "" {
		store, err := history.OpenSQLiteStore(cfg.HistoryDBPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, store)
	}
	return history.NewRecorder(log.WithField("component", "history"), sinks...), nil
}
