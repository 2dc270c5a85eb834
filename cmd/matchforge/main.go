package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matchforge/engine/internal/config"
	"github.com/matchforge/engine/internal/container"
	"github.com/matchforge/engine/internal/core/module"
	"github.com/matchforge/engine/internal/data"
	"github.com/matchforge/engine/internal/gamemaster"
	"github.com/matchforge/engine/internal/modules/health"
	"github.com/matchforge/engine/internal/modules/movement"
	"github.com/matchforge/engine/internal/modules/spawn"
	"github.com/matchforge/engine/internal/persist"
	"github.com/matchforge/engine/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m            MatchForge  v0.1.0             \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m      simulation container host            \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s\n\n", serverName)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	explicit := false
	if p := os.Getenv("MATCHFORGE_CONFIG"); p != "" {
		cfgPath = p
		explicit = true
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		// The default path is optional; an explicitly named file is not.
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = config.Default()
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name)

	// 3. Connect to PostgreSQL and run migrations
	printSection("storage")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		containerRepo *persist.ContainerRepo
		historyRepo   *persist.SnapshotRepo
		archiver      *persist.Archiver
	)
	if cfg.Database.Enabled {
		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")

		if err := persist.RunMigrations(ctx, db.Pool); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("migrations applied")

		containerRepo = persist.NewContainerRepo(db)
		historyRepo = persist.NewSnapshotRepo(db)
		if cfg.Archive.Enabled {
			archiver = persist.NewArchiver(historyRepo, cfg.Archive, log)
			printOK(fmt.Sprintf("snapshot archive every %d ticks", cfg.Archive.EveryTicks))
		}
	} else {
		printOK("in-memory only (database disabled)")
	}
	fmt.Println()

	// 4. Load gameplay data
	printSection("data")

	archetypes, err := data.LoadArchetypeTable("data/archetypes.yaml")
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load archetypes: %w", err)
		}
		archetypes = data.NewArchetypeTable()
	}
	printStat("archetypes", archetypes.Count())
	fmt.Println()

	// 5. Assemble the container host
	var engines struct {
		sync.Mutex
		list []*gamemaster.Engine
	}
	provision := func(c *container.Container) error {
		if cfg.Scripts.Enabled {
			eng, err := gamemaster.Attach(c, gamemaster.Options{Dir: cfg.Scripts.Dir, Log: log})
			if err != nil {
				return fmt.Errorf("attach scripts: %w", err)
			}
			engines.Lock()
			engines.list = append(engines.list, eng)
			engines.Unlock()
		}
		if archiver != nil {
			archiver.Watch(c)
		}
		return nil
	}

	mgr := container.NewManager(container.ManagerOptions{
		Log: log,
		Limits: container.Limits{
			MaxEntities:        cfg.Container.MaxEntities,
			MaxComponents:      cfg.Container.MaxComponents,
			MaxCommandsPerTick: cfg.Container.MaxCommandsPerTick,
			TrackLimit:         cfg.Container.TrackLimit,
			SnapshotMaxAge:     cfg.Container.SnapshotMaxAge,
			RebuildThreshold:   cfg.Container.RebuildThreshold,
		},
		Modules: func() []*module.Module {
			return []*module.Module{
				movement.New(),
				health.New(),
				spawn.New(archetypes),
			}
		},
		Provision: provision,
	})

	// 6. Serve the API
	srv := web.NewServer(web.Options{
		Manager:         mgr,
		Log:             log,
		Containers:      containerRepo,
		History:         historyRepo,
		DefaultInterval: cfg.Container.TickInterval,
	})
	httpSrv := &http.Server{
		Addr:    cfg.Server.BindAddress,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	printSection("server ready")
	printReady(fmt.Sprintf("listening on %s", cfg.Server.BindAddress))
	printReady(fmt.Sprintf("container tick interval %s", cfg.Container.TickInterval))
	if cfg.Scripts.Enabled {
		printReady(fmt.Sprintf("scripts from %s", cfg.Scripts.Dir))
	}
	fmt.Println()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-shutdownCh:
		log.Info("shutdown signal", zap.String("signal", sig.String()))
	}

	// 7. Drain: stop accepting requests, then stop the simulations.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stopCancel()

	if err := httpSrv.Shutdown(stopCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := mgr.StopAll(stopCtx); err != nil {
		log.Warn("container shutdown", zap.Error(err))
	}
	engines.Lock()
	for _, eng := range engines.list {
		eng.Close()
	}
	engines.Unlock()
	if archiver != nil {
		archiver.Close()
		log.Info("archive flushed",
			zap.Uint64("entries", archiver.Flushed()),
			zap.Uint64("dropped", archiver.Dropped()))
	}
	log.Info("server stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
