package session

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper evicts idle sessions on a cron schedule, independent of Create.
type Sweeper struct {
	store    *Store
	schedule string
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewSweeper validates schedule (standard 5-field cron or a descriptor such as
// "@every 5m") and returns a stopped sweeper.
func NewSweeper(store *Store, schedule string) (*Sweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if schedule == "" {
		return nil, fmt.Errorf("sweep schedule cannot be empty")
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if evicted := store.Sweep(); evicted > 0 {
			log.Debug().Int("evicted", evicted).Msg("Scheduled session sweep")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return &Sweeper{
		store:    store,
		schedule: schedule,
		cron:     c,
	}, nil
}

// Start starts the sweeper
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper is already running")
	}
	s.cron.Start()
	s.running = true

	log.Info().Str("schedule", s.schedule).Msg("Session sweeper started")
	return nil
}

// Stop stops the sweeper and waits for a running sweep to finish.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("sweeper is not running")
	}
	<-s.cron.Stop().Done()
	s.running = false

	log.Info().Msg("Session sweeper stopped")
	return nil
}

// IsRunning returns whether the sweeper is running
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
