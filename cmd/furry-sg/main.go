// Command furry-sg renders animated software scenes into terminal windows,
// one render worker per window.
//
// Keys: tab cycles focus, o obscures or re-exposes the focused window,
// g grabs it to a PNG, u forces an update, r releases its resources, d
// destroys it and q quits.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/pborman/getopt"

	"github.com/odvcencio/furry-sg/animation"
	"github.com/odvcencio/furry-sg/driver"
	"github.com/odvcencio/furry-sg/renderloop"
	"github.com/odvcencio/furry-sg/termwin"
)

type options struct {
	config   string
	windows  int
	stats    bool
	headless bool
	duration time.Duration
	logFile  string
	grabDir  string
}

func main() {
	configPath := getopt.StringLong("config", 'c', "", "YAML config file", "path")
	windows := getopt.IntLong("windows", 'n', 0, "number of windows")
	stats := getopt.BoolLong("stats", 's', "print frame statistics as JSON on exit")
	headless := getopt.BoolLong("headless", 'H', "render to a simulated 80x24 screen")
	duration := getopt.DurationLong("duration", 'd', 0, "quit after this long")
	logFile := getopt.StringLong("log", 'l', "", "write logs to this file", "path")
	grabDir := getopt.StringLong("grab-dir", 'g', ".", "directory for grabbed frames", "dir")
	help := getopt.BoolLong("help", 'h', "show this help")
	getopt.Parse()

	if *help {
		getopt.Usage()
		return
	}
	opts := options{
		config:   *configPath,
		windows:  *windows,
		stats:    *stats,
		headless: *headless,
		duration: *duration,
		logFile:  *logFile,
		grabDir:  *grabDir,
	}
	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "furry-sg:", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := loadConfig(opts.config, opts.windows)
	if err != nil {
		return err
	}
	if opts.logFile != "" {
		cfg.LogFile = opts.logFile
	}
	logger, closeLog, err := openLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closeLog()
	renderloop.SetLogger(logger)
	driver.SetLogger(logger)

	var screen tcell.Screen
	var sim tcell.SimulationScreen
	if opts.headless {
		sim = tcell.NewSimulationScreen("UTF-8")
		screen = sim
		if opts.duration <= 0 {
			opts.duration = 2 * time.Second
		}
	} else {
		screen, err = tcell.NewScreen()
		if err != nil {
			return fmt.Errorf("open terminal: %w", err)
		}
	}
	term, err := termwin.New(screen, termwin.Config{
		RefreshRate: cfg.RefreshRate,
		Scale:       cfg.Scale,
		Filter:      cfg.Filter,
	})
	if err != nil {
		return fmt.Errorf("init terminal: %w", err)
	}
	if sim != nil {
		sim.SetSize(80, 24)
	}

	recorder := newStatsRecorder()
	a := &app{
		cfg:     cfg,
		term:    term,
		anim:    animation.NewDriver(),
		stats:   recorder,
		log:     logger,
		grabDir: opts.grabDir,
	}
	loop := driver.New(driver.Config{
		Platform:      term,
		Animation:     a.anim,
		Observer:      recorder,
		FrameInterval: time.Duration(cfg.FrameIntervalMS) * time.Millisecond,
		Handler:       a.handle,
	})
	a.loop = loop
	term.Attach(loop)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if !opts.headless {
		go term.PumpEvents(ctx)
	}
	if opts.duration > 0 {
		loop.Spawn(driver.After(opts.duration, driver.QuitMsg{}))
	}
	loop.Invoke(a.start)

	err = loop.Run(ctx)
	term.Close()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if opts.stats {
		if serr := recorder.WriteJSON(os.Stdout, !opts.headless); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	return err
}

func openLogger(path, level string) (*slog.Logger, func(), error) {
	if path == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log: %w", err)
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: lvl}))
	return logger, func() { _ = f.Close() }, nil
}
