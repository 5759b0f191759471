package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hazimsaleh/fatoora/audit"
	"github.com/hazimsaleh/fatoora/authority"
	"github.com/hazimsaleh/fatoora/cert"
	"github.com/hazimsaleh/fatoora/internal/config"
	"github.com/hazimsaleh/fatoora/internal/util"
	"github.com/hazimsaleh/fatoora/keymat"
	"github.com/hazimsaleh/fatoora/rotation"
	"github.com/hazimsaleh/fatoora/sign"
	bboltstorage "github.com/hazimsaleh/fatoora/storage/bbolt"
)

// stack wires the full engine from configuration.
type stack struct {
	cfg       *config.Config
	logger    *slog.Logger
	repo      *bboltstorage.Store
	log       *audit.Log
	manager   *cert.Manager
	signer    *sign.Signer
	scheduler *rotation.Scheduler
}

func (s *stack) Close() error {
	return s.repo.Close()
}

func buildStack(configPath string) (*stack, error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Logging)

	repo, err := bboltstorage.NewRepositoryFromFile(cfg.Database.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	ring := keymat.NewRing()
	if cfg.MasterKey.Key != "" {
		raw, err := util.HexDecode(cfg.MasterKey.Key)
		if err != nil {
			repo.Close()
			return nil, fmt.Errorf("decoding master key: %w", err)
		}
		if err := ring.AddVersion(cfg.MasterKey.ID, raw); err != nil {
			repo.Close()
			return nil, err
		}
	} else {
		salt, err := util.HexDecode(cfg.MasterKey.Salt)
		if err != nil {
			repo.Close()
			return nil, fmt.Errorf("decoding master key salt: %w", err)
		}
		if err := ring.AddDerivedVersion(cfg.MasterKey.ID, cfg.MasterKey.Passphrase, salt); err != nil {
			repo.Close()
			return nil, err
		}
	}

	var client authority.Client
	switch cfg.Authority.Mode {
	case config.AuthorityModeHTTP:
		var opts []authority.ClientOption
		if cfg.Authority.APIKey != "" {
			opts = append(opts, authority.WithAPIKey(cfg.Authority.APIKey))
		}
		client = authority.NewHTTPClient(cfg.Authority.BaseURL, opts...)
	default:
		var opts []authority.SandboxOption
		if cfg.Authority.TOTPSecret != "" {
			opts = append(opts, authority.WithTOTPSecret(cfg.Authority.TOTPSecret))
		}
		client = authority.NewSandbox(opts...)
	}

	log := audit.New(repo, logger)
	manager := cert.NewManager(repo, keymat.NewService(ring, log), client, log, logger)
	signer := sign.NewSigner(repo, manager, log, logger)
	scheduler := rotation.NewScheduler(repo, manager, log, logger,
		rotation.WithInterval(cfg.SweepInterval()),
	)

	return &stack{
		cfg:       cfg,
		logger:    logger,
		repo:      repo,
		log:       log,
		manager:   manager,
		signer:    signer,
		scheduler: scheduler,
	}, nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
