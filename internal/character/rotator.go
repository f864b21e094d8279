package character

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
)

// minRotationRoster is the smallest roster auto-rotation acts on.
const minRotationRoster = 3

// Rotator picks the next character for periodic auto-rotation.
type Rotator struct {
	roster   *Roster
	registry *Registry
	enabled  bool
	logger   *zap.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	started bool
}

// NewRotator creates a rotator. A nil rng uses a randomly seeded source.
func NewRotator(roster *Roster, registry *Registry, enabled bool, rng *rand.Rand) *Rotator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Rotator{
		roster:   roster,
		registry: registry,
		enabled:  enabled,
		rng:      rng,
		logger:   zap.NewNop(),
	}
}

// SetLogger attaches a logger.
func (r *Rotator) SetLogger(logger *zap.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Tick decides whether to rotate now and to whom. It never mutates the
// registry; the caller applies the returned character.
//
// The first tick after construction is always skipped so a fresh process does
// not switch persona right after boot.
func (r *Rotator) Tick() (Character, bool) {
	if !r.enabled {
		return Character{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		r.started = true
		return Character{}, false
	}
	if r.roster.Len() < minRotationRoster {
		return Character{}, false
	}

	current := r.registry.Current()
	candidates := make([]Character, 0, r.roster.Len())
	for _, c := range r.roster.All() {
		if c.ID == current.ID || c.ID == DefaultID {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return Character{}, false
	}

	return candidates[r.rng.IntN(len(candidates))], true
}

// Run calls Tick every interval and hands picked characters to apply until
// ctx is done.
func (r *Rotator) Run(ctx context.Context, interval time.Duration, apply func(context.Context, Character)) {
	if !r.enabled || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next, ok := r.Tick()
			if !ok {
				continue
			}
			r.logger.Info("rotating character",
				zap.String("from", r.registry.Current().ID),
				zap.String("to", next.ID))
			apply(ctx, next)
		}
	}
}
