package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nadzzz/hearth/internal/config"
	"github.com/nadzzz/hearth/internal/confirm"
	"github.com/nadzzz/hearth/internal/confirm/redisstore"
	"github.com/nadzzz/hearth/internal/dispatch"
	"github.com/nadzzz/hearth/internal/health"
	"github.com/nadzzz/hearth/internal/history"
	"github.com/nadzzz/hearth/internal/history/jsonfile"
	"github.com/nadzzz/hearth/internal/history/sqlite"
	"github.com/nadzzz/hearth/internal/interpreter"
	openaiinterp "github.com/nadzzz/hearth/internal/interpreter/openai"
	"github.com/nadzzz/hearth/internal/inventory"
	"github.com/nadzzz/hearth/internal/music"
	"github.com/nadzzz/hearth/internal/music/spotify"
	"github.com/nadzzz/hearth/internal/platform"
	"github.com/nadzzz/hearth/internal/platform/homeassistant"
	"github.com/nadzzz/hearth/internal/platform/static"
	"github.com/nadzzz/hearth/internal/refine"
)

// app is the wired orchestrator graph shared by serve and mcp.
type app struct {
	cache      *inventory.Cache
	history    *history.Log
	dispatcher *dispatch.Dispatcher
	checks     map[string]health.Check
	closers    []func() error
}

// Close releases stores in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// run starts the background loops: inventory refresh and the confirmation janitor.
func (a *app) run(ctx context.Context) {
	go a.cache.Run(ctx)
	go a.dispatcher.RunJanitor(ctx)
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{checks: make(map[string]health.Check)}
	fail := func(err error) (*app, error) {
		_ = a.Close()
		return nil, err
	}

	// Home platform and room resolution.
	plat, err := openPlatform(cfg.Platform)
	if err != nil {
		return fail(err)
	}
	var resolver platform.AreaResolver
	if r, ok := plat.(platform.AreaResolver); ok {
		resolver = r
	}
	rooms := platform.NewRooms(cfg.Rooms.Sources, resolver)
	slog.Info("using platform", "backend", plat.Name(), "static_rooms", len(cfg.Rooms.Sources))

	a.cache = inventory.NewCache(plat, cfg.Inventory.RefreshInterval, cfg.Inventory.MaxAge)
	a.checks["inventory"] = a.cache.Ready

	// Interpreter backend.
	if err := openaiinterp.Validate(cfg.Interpreter.OpenAI); err != nil {
		return fail(err)
	}
	interp := interpreter.New(openaiinterp.New(cfg.Interpreter.OpenAI), cfg.Interpreter.RetryBackoff)
	slog.Info("using interpreter", "backend", interp.Name(), "model", cfg.Interpreter.OpenAI.Model)

	// Confirmation sessions.
	var store confirm.Store
	switch cfg.Confirm.Store {
	case "redis":
		rs, err := redisstore.New(ctx, cfg.Redis)
		if err != nil {
			return fail(err)
		}
		a.closers = append(a.closers, rs.Close)
		a.checks["redis"] = rs.Ping
		store = rs
	default:
		store = confirm.NewMemoryStore()
	}

	// History.
	hs, closeHistory, err := openHistory(ctx, cfg.History)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, closeHistory)
	a.history = history.New(hs, history.Capacity)
	if err := a.history.Load(ctx); err != nil {
		return fail(err)
	}
	slog.Info("history loaded", "backend", cfg.History.Backend, "path", cfg.History.Path, "records", a.history.Len())

	// Music.
	var provider music.Provider
	if cfg.Music.Enabled {
		provider = spotify.New(cfg.Music.Spotify, plat)
		slog.Info("music search enabled", "provider", "spotify", "market", cfg.Music.Spotify.Market)
	}

	a.dispatcher = dispatch.New(dispatch.Deps{
		Inventory:   a.cache,
		Rooms:       rooms,
		Refiner:     refine.New(cfg.Refine.MaxCandidates, cfg.Refine.TieMargin),
		Interpreter: interp,
		Policy: confirm.NewPolicy(confirm.PolicyConfig{
			HighImpactActions: cfg.Confirm.HighImpactActions,
			ClimateMin:        cfg.Confirm.Climate.Min,
			ClimateMax:        cfg.Confirm.Climate.Max,
			ClimateMaxDelta:   cfg.Confirm.Climate.MaxDelta,
		}),
		Confirm:       confirm.NewManager(store, cfg.Confirm.Timeout, cfg.Confirm.MaxReprompts),
		Devices:       plat,
		Music:         provider,
		History:       a.history,
		ContextTurns:  cfg.Interpreter.ContextTurns,
		SweepInterval: cfg.Confirm.SweepInterval,
	})
	return a, nil
}

func openPlatform(cfg config.PlatformConfig) (platform.Platform, error) {
	switch cfg.Backend {
	case "static":
		p, err := static.Load(cfg.Static.Path)
		if err != nil {
			return nil, fmt.Errorf("opening static platform: %w", err)
		}
		return p, nil
	case "homeassistant":
		if cfg.HomeAssistant.Token == "" {
			return nil, fmt.Errorf("platform.homeassistant.token is required")
		}
		return homeassistant.New(cfg.HomeAssistant), nil
	}
	return nil, fmt.Errorf("unknown platform backend %q", cfg.Backend)
}

// openHistory opens the configured history store and its closer.
func openHistory(ctx context.Context, cfg config.HistoryConfig) (history.Store, func() error, error) {
	switch cfg.Backend {
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "json":
		return jsonfile.New(cfg.Path), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
}
