package stats

import (
	"context"
	"sync"
	"time"

	"github.com/lexiqai/speech-coach/internal/observability"
	"github.com/rs/zerolog"
)

// Fetcher retrieves the live metrics of a session
type Fetcher interface {
	Stats(ctx context.Context, sessionID string) (Update, error)
}

// Poller fetches live metrics on a fixed interval. At most one polling loop
// runs per Poller; results from a loop that has been stopped or replaced
// are discarded.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// NewPoller creates a stopped poller
func NewPoller(fetcher Fetcher, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		fetcher:  fetcher,
		interval: interval,
		logger:   logger,
	}
}

// Start begins polling sessionID, replacing any loop already running.
// apply receives every successful, non-empty result of this loop only.
func (p *Poller) Start(sessionID string, apply func(Update)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.gen++
	gen := p.gen

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	go p.run(ctx, gen, sessionID, apply)
}

// Stop cancels the running loop. A request already in flight completes,
// but its result is dropped.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.gen++
}

// Running reports whether a loop is active
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen
}

func (p *Poller) run(ctx context.Context, gen uint64, sessionID string, apply func(Update)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logger := p.logger.With().Str("session_id", sessionID).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		update, err := p.fetcher.Stats(ctx, sessionID)
		if !p.current(gen) {
			logger.Debug().Msg("Discarding stats result from a stopped poller")
			return
		}
		observability.RecordStatsPoll(err == nil)
		if err != nil {
			logger.Warn().Err(err).Msg("Live stats poll failed")
			continue
		}
		if update.Empty() {
			continue
		}
		apply(update)
	}
}
