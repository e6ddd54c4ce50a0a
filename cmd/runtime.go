package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/user/hostguard/pkg/config"
	"github.com/user/hostguard/pkg/engine"
	"github.com/user/hostguard/pkg/helpers"
	"github.com/user/hostguard/pkg/ledger"
	"github.com/user/hostguard/pkg/logging"
	"github.com/user/hostguard/pkg/rules"
)

// runtime is everything one command invocation works with.
type runtime struct {
	cfg    *config.Config
	log    *zap.Logger
	ledger *ledger.Ledger
	engine *engine.Engine
}

func configPath() string {
	if ConfigPath != "" {
		return ConfigPath
	}
	return config.DefaultPath
}

// loadRuntime builds the config, logger, ledger, helpers and engine in that
// order. The caller must call close.
func loadRuntime() (*runtime, error) {
	cfg, err := config.LoadConfig(configPath())
	if err != nil {
		return nil, err
	}
	log, err := logging.New(DebugMode, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LedgerPath), 0o700); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	store, err := ledger.OpenSQLite(cfg.LedgerPath)
	if err != nil {
		return nil, err
	}
	l := ledger.New(store, cfg.ArchiveDir, log)

	runner := helpers.NewExecRunner(log)
	env := &rules.Env{
		Ledger:   l,
		Runner:   runner,
		Services: helpers.NewSystemd(runner),
		Config:   cfg,
		Log:      log,
	}
	if pm, err := helpers.NewPackageManager(runner); err != nil {
		log.Warn("no supported package manager found", zap.Error(err))
	} else {
		env.Packages = pm
	}

	profiles, err := engine.LoadProfiles(cfg.ProfileDir, log)
	if err != nil {
		l.Close()
		return nil, err
	}
	eng, err := engine.New(env, profiles)
	if err != nil {
		l.Close()
		return nil, err
	}
	return &runtime{cfg: cfg, log: log, ledger: l, engine: eng}, nil
}

func (rt *runtime) close() {
	if err := rt.ledger.Close(); err != nil {
		rt.log.Warn("closing ledger", zap.Error(err))
	}
	_ = rt.log.Sync()
}

func parseRule(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid rule number %q", s)
	}
	return uint16(n), nil
}
