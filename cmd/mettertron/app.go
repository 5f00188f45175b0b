package main

import (
	"fmt"

	"github.com/SanteonNL/mettertron/cmd/mettertron/cache"
	"github.com/SanteonNL/mettertron/cmd/mettertron/config"
	"github.com/SanteonNL/mettertron/cmd/mettertron/formfield"
	"github.com/SanteonNL/mettertron/cmd/mettertron/mdr"
	"github.com/SanteonNL/mettertron/cmd/mettertron/terminology"
	"github.com/rs/zerolog"
)

// app holds the components shared by all commands. They are created once and
// live for the whole process.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	cache     *cache.ResponseCache
	mdr       *mdr.Client
	ts        *terminology.Client
	formField *formfield.Service
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return newAppFromConfig(cfg)
}

func newAppFromConfig(cfg *config.Config) (*app, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	log := newLogger(level, cfg.IsDev())
	log.Info().Object("config", cfg).Msg("Loaded configuration")

	cacheSettings := cfg.Cache()
	responseCache := cache.New(cache.Config{
		MaxAge:      cacheSettings.AcceptableAge,
		MaxElements: cacheSettings.MaximumElements,
	}, log)

	mdrClient := mdr.NewClient(cfg.Mdr(), cfg.HTTP(), responseCache, log)
	tsClient := terminology.NewClient(cfg.Terminology(), cfg.HTTP(), responseCache, log)

	return &app{
		cfg:       cfg,
		log:       log,
		cache:     responseCache,
		mdr:       mdrClient,
		ts:        tsClient,
		formField: formfield.NewService(mdrClient, tsClient, cfg.MdrAttributes(), log),
	}, nil
}
