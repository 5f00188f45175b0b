package background

import (
	"context"
	"sync"
	"time"

	"github.com/SanteonNL/mettertron/cmd/mettertron/config"
	"github.com/SanteonNL/mettertron/cmd/mettertron/mdr"
	"github.com/rs/zerolog"
)

const initialLoginDelay = time.Second

type Loginer interface {
	Login(ctx context.Context, mode mdr.LoginMode) (*mdr.Session, error)
}

type Cleaner interface {
	Clean(reason string) []string
}

// Scheduler keeps the MDR session fresh and sweeps stale cache entries. Failures
// are logged and retried on the next tick.
type Scheduler struct {
	login    Loginer
	cache    Cleaner
	settings config.BackgroundSettings
	delay    time.Duration
	log      zerolog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(login Loginer, cache Cleaner, settings config.BackgroundSettings, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		login:    login,
		cache:    cache,
		settings: settings,
		delay:    initialLoginDelay,
		log:      log.With().Str("component", "background").Logger(),
		stopChan: make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.log.Info().
		Dur("auto_login", s.settings.AutoLogin).
		Dur("cleanup_cache", s.settings.CleanupCache).
		Msg("Starting background tasks")

	s.wg.Add(2)
	go s.loginRoutine()
	go s.cleanupRoutine()
}

// Stop ends both routines and waits for a running iteration to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	s.log.Info().Msg("Background tasks stopped")
}

func (s *Scheduler) loginRoutine() {
	defer s.wg.Done()

	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			s.refreshLogin()
			timer.Reset(s.settings.AutoLogin)
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) cleanupRoutine() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.settings.CleanupCache)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := s.cache.Clean("scheduled")
			s.log.Debug().Int("removed", len(removed)).Msg("Scheduled cache cleanup done")
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) refreshLogin() {
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.AutoLogin)
	defer cancel()

	session, err := s.login.Login(ctx, mdr.LoginReuse)
	if err != nil {
		s.log.Error().Err(err).Msg("Background MDR login failed")
		return
	}
	s.log.Debug().Time("expires_at", session.ExpiresAt).Msg("MDR session checked")
}
