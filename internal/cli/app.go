package cli

import (
	"fmt"
	"time"

	"github.com/harun/chatproxy/internal/config"
	"github.com/harun/chatproxy/internal/logger"
	"github.com/harun/chatproxy/pkg/backend"
	"github.com/harun/chatproxy/pkg/chat"
	"github.com/harun/chatproxy/pkg/gateway"
	"github.com/harun/chatproxy/pkg/orchestrator"
	"github.com/harun/chatproxy/pkg/session"
)

// app holds the wired service graph for one serve run.
type app struct {
	store   *session.Store
	sweeper *session.Sweeper
	server  *gateway.Server
}

// newApp builds the session store, backend, orchestrator, chat service and
// gateway from cfg.
func newApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	b, err := backend.New(profileFromConfig(cfg.Backend))
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}
	return newAppWithBackend(cfg, log, b)
}

func newAppWithBackend(cfg *config.Config, log *logger.Logger, b backend.Backend) (*app, error) {
	storeOpts := []session.Option{
		session.WithTimeout(cfg.Sessions.Timeout()),
		session.WithSystemPrompt(cfg.Sessions.SystemPrompt),
		session.WithLogger(log.Component("session")),
	}
	if cfg.Sessions.ArchiveDir != "" {
		archiver, err := session.NewArchiver(cfg.Sessions.ArchiveDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create transcript archiver: %w", err)
		}
		storeOpts = append(storeOpts, session.WithEvictionHook(archiver.Hook()))
	}
	store := session.NewStore(storeOpts...)

	var sweeper *session.Sweeper
	if cfg.Sessions.SweepSchedule != "" {
		var err error
		sweeper, err = session.NewSweeper(store, cfg.Sessions.SweepSchedule)
		if err != nil {
			return nil, fmt.Errorf("invalid sweep schedule: %w", err)
		}
	}

	o := orchestrator.New(b, orchestrator.WithLogger(log.Component("orchestrator")))
	svc := chat.NewService(store, o,
		chat.WithMaxMessageBytes(cfg.Gateway.MaxMessageBytes),
		chat.WithLogger(log.Component("chat")),
	)

	gwLogger := log.GetZerolog()
	gwCfg := gateway.Config{
		Host:           cfg.Gateway.Host,
		Port:           cfg.Gateway.Port,
		Chat:           svc,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		Logger:         &gwLogger,
	}
	if rl := cfg.Gateway.RateLimit; rl.Enabled {
		gwCfg.RateLimit = &gateway.RateLimitConfig{
			RequestsPerWindow: rl.RequestsPerWindow,
			Window:            time.Duration(rl.WindowSeconds) * time.Second,
			MaxConcurrent:     rl.MaxConcurrent,
		}
	}
	server, err := gateway.NewServer(gwCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	return &app{store: store, sweeper: sweeper, server: server}, nil
}

func profileFromConfig(b config.BackendConfig) backend.Profile {
	return backend.Profile{
		Provider:    b.Provider,
		APIKey:      b.APIKey,
		Endpoint:    b.Endpoint,
		APIVersion:  b.APIVersion,
		Model:       b.Model,
		MaxTokens:   b.MaxTokens,
		Temperature: b.Temperature,
		Timeout:     b.Timeout(),
	}
}
