// Package throttle limits request rates globally and per key.
package throttle

import (
	"sync"

	"github.com/Laisky/errors/v2"
	"golang.org/x/time/rate"
)

// Config configuration for Throttle
type Config struct {
	TotalNPerSec, TotalBurst     int
	EachKeyNPerSec, EachKeyBurst int
}

func (c *Config) validate() error {
	if c.TotalNPerSec <= 0 || c.EachKeyNPerSec <= 0 {
		return errors.New("NPerSec must bigger than 0")
	}
	if c.TotalBurst < c.TotalNPerSec || c.EachKeyBurst < c.EachKeyNPerSec {
		return errors.New("burst must bigger than NPerSec")
	}
	return nil
}

// Throttle is a token bucket shared by all keys plus one bucket per key.
type Throttle struct {
	sync.Mutex
	cfg      Config
	total    *rate.Limiter
	eachKeys map[string]*rate.Limiter
}

// New create new Throttle
func New(cfg Config) (*Throttle, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid throttle config")
	}

	return &Throttle{
		cfg:      cfg,
		total:    rate.NewLimiter(rate.Limit(cfg.TotalNPerSec), cfg.TotalBurst),
		eachKeys: make(map[string]*rate.Limiter),
	}, nil
}

// Allow reports whether one more request for key may proceed now.
func (t *Throttle) Allow(key string) bool {
	t.Lock()
	lim, ok := t.eachKeys[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(t.cfg.EachKeyNPerSec), t.cfg.EachKeyBurst)
		t.eachKeys[key] = lim
	}
	t.Unlock()

	return lim.Allow() && t.total.Allow()
}
