// dosplay runs a DOS game in its browser-style front-end, feeds it the
// keyboard of the controlling terminal and keeps its save file in a local
// store between sessions.
//
//	dosplay [-config path] [-mod name] [-sync]
//
// Keys are remapped the way the Koei titles expect: cursor keys drive the
// numpad directions and Home/End/PgUp/PgDn reach the game unchanged unless
// input.key_aliases binds them, for example to the diagonals. Ctrl-C quits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"dosplay/internal/cloudsync"
	"dosplay/internal/config"
	"dosplay/internal/intercept"
	"dosplay/internal/jsdos"
	"dosplay/internal/keyevent"
	"dosplay/internal/keymap"
	"dosplay/internal/logging"
	"dosplay/internal/metrics"
	"dosplay/internal/notify"
	"dosplay/internal/session"
	"dosplay/internal/terminput"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath = flag.String("config", "", "path to config file")
	modName    = flag.String("mod", "", "game to run (overrides game.mod)")
	syncFlag   = flag.Bool("sync", false, "pull the save file before playing and push it afterwards")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dosplay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer loader.Close()
	if *modName != "" {
		cfg.Game.Mod = *modName
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if *syncFlag {
		cfg.Sync.Enabled = true
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()
	logging.SetDefault(logger)

	crash := logging.NewCrashHandler(filepath.Join(config.DataDir(), "crashes"), Version, "dosplay")
	defer crash.Recover(map[string]any{"mod": cfg.Game.Mod})

	watchConfig(loader, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := metrics.NewRegistry("dosplay")
	m := metrics.NewDosplay(registry)
	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		shutdown := serveMetrics(cfg.Metrics.Listen, registry, logger.Logger)
		defer shutdown()
	}

	notifier := notify.Multi{notify.Log{Logger: logger.Logger}}
	journal, err := openJournal(cfg)
	if err != nil {
		logger.Warn("save journal disabled", "error", err)
	} else {
		defer journal.Close()
		notifier = append(notifier, journal)
	}

	if cfg.Sync.Enabled {
		if err := syncSave(ctx, cfg, logger.Logger, m, notifier, pull); err != nil {
			logger.Warn("pull save file", "error", err)
		}
	}

	doc := intercept.NewDocument()
	sess, err := session.New(sessionOptions(cfg), session.Deps{
		Document: doc,
		Factory:  jsdos.Factory{Logger: logger.WithComponent("jsdos").Logger},
		Open:     session.StoreOpener(cfg.Storage.Dir),
		Notifier: notifier,
		Metrics:  m,
		Logger:   logger.Logger,
	})
	if err != nil {
		return err
	}
	if err := sess.Start(ctx); err != nil {
		sess.Close()
		return err
	}

	playErr := play(ctx, doc, logger.Logger)

	if !sess.SafeToExit() {
		logger.Warn("quitting shortly after a change; the save file may not be stored")
	}
	if err := sess.Close(); err != nil {
		logger.Warn("close session", "error", err)
	}

	if cfg.Sync.Enabled {
		if err := syncSave(context.WithoutCancel(ctx), cfg, logger.Logger, m, notifier, push); err != nil {
			logger.Warn("push save file", "error", err)
		}
	}
	return playErr
}

func newLogger(c config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = logging.ParseFormat(c.Format)
	lc.Output = c.Output
	lc.FilePath = c.FilePath
	lc.MaxSize = int64(c.MaxSizeMB)
	lc.MaxBackups = c.MaxBackups
	lc.MaxAge = c.MaxAgeDays
	lc.Compress = c.Compress
	return logging.New(lc)
}

// watchConfig follows the config file so the log level can be changed
// while a game is running. Other settings apply on the next start.
func watchConfig(loader *config.Loader, logger *logging.Logger) {
	if err := loader.Watch(); err != nil {
		logger.Debug("config not watched", "error", err)
		return
	}
	loader.OnChange(func(c *config.Config) {
		level, err := logging.ParseLevel(c.Logging.Level)
		if err != nil {
			return
		}
		if level != logger.Level() {
			logger.SetLevel(level)
			logger.Info("log level changed", "level", logging.LevelString(level))
		}
	})
	go func() {
		for err := range loader.Errors() {
			logger.Warn("config reload", "error", err)
		}
	}()
}

func serveMetrics(addr string, registry *metrics.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func openJournal(cfg *config.Config) (*logging.Journal, error) {
	lc := logging.DefaultConfig()
	lc.MaxSize = 1
	lc.MaxBackups = cfg.Logging.MaxBackups
	return logging.OpenJournal(filepath.Join(config.DataDir(), "journal.jsonl"), cfg.Game.Mod, *lc)
}

func sessionOptions(cfg *config.Config) session.Options {
	codes := keymap.DefaultCodes()
	maps.Copy(codes, cfg.Input.KeyAliases)

	return session.Options{
		Mod:      cfg.Game.Mod,
		Entry:    cfg.Game.Entry,
		SaveFile: cfg.Game.SaveFile,
		Archive:  cfg.ArchivePath(),
		Runtime: session.RuntimeOptions{
			Bootstrap: cfg.Game.Bootstrap,
			Cycles:    cfg.Game.Cycles,
			Drive:     cfg.DrivePath(),
		},
		StoreVersion:   cfg.Storage.Version,
		PollInterval:   cfg.PollInterval(),
		Debounce:       cfg.Debounce(),
		SafeExitWindow: cfg.SafeExitWindow(),
		KeyMap:         keymap.New(codes),
	}
}

// play feeds terminal keys to the document until Ctrl-C, end of input or
// a signal.
func play(ctx context.Context, doc *intercept.Document, logger *slog.Logger) error {
	fd := int(os.Stdin.Fd())
	restore, err := terminput.MakeRaw(fd)
	if err != nil {
		logger.Warn("keys are read without raw mode", "error", err)
	} else {
		defer restore()
	}

	done := make(chan error, 1)
	go func() {
		done <- terminput.Pump(ctx, os.Stdin, func(ev keyevent.Physical) {
			doc.Dispatch(ev)
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// the reader stays blocked on stdin; the process is about to exit
		return nil
	}
}

type syncDirection int

const (
	pull syncDirection = iota
	push
)

func syncSave(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Dosplay, n notify.Notifier, dir syncDirection) error {
	remote, err := cloudsync.NewFolder(cfg.Sync.Folder)
	if err != nil {
		return err
	}
	files, err := session.StoreOpener(cfg.Storage.Dir)(ctx, cfg.Game.Mod, cfg.Storage.Version)
	if err != nil {
		return err
	}
	defer files.Close()

	s := &cloudsync.Syncer{
		Remote:   remote,
		Local:    files,
		Mod:      cfg.Game.Mod,
		SaveFile: cfg.Game.SaveFile,
		Confirm:  cloudsync.Prompt(os.Stdin, os.Stderr),
		Logger:   logger,
	}

	m.SyncOperation()
	switch dir {
	case pull:
		err = s.Pull(ctx)
		if errors.Is(err, cloudsync.ErrNotFound) {
			return nil
		}
		if err == nil {
			n.Notify(notify.SyncPulled, "save file pulled from "+s.Path())
		}
	case push:
		err = s.Push(ctx)
		if errors.Is(err, cloudsync.ErrNoSave) {
			return nil
		}
		if err == nil {
			n.Notify(notify.SyncPushed, "save file pushed to "+s.Path())
		}
	}
	if err != nil && !errors.Is(err, cloudsync.ErrDeclined) {
		m.Error()
		n.Notify(notify.Failure, err.Error())
	}
	return err
}
