package delivery

import (
	"time"

	"github.com/cockroachdb/errors"
)

type Config struct {
	Workers     int
	MaxAttempts int
	BaseBackoff time.Duration
	Factor      float64
	MaxBackoff  time.Duration
	SendTimeout time.Duration
	DedupWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:     8,
		MaxAttempts: 5,
		BaseBackoff: 200 * time.Millisecond,
		Factor:      2,
		SendTimeout: 10 * time.Second,
		DedupWindow: 5 * time.Minute,
	}
}

func (c Config) validate() error {
	if c.Workers < 1 {
		return errors.New("delivery: workers must be >= 1")
	}
	if c.MaxAttempts < 1 {
		return errors.New("delivery: max attempts must be >= 1")
	}
	if c.BaseBackoff < 0 || c.MaxBackoff < 0 || c.SendTimeout < 0 || c.DedupWindow < 0 {
		return errors.New("delivery: durations cannot be negative")
	}
	// a factor below 2 lets jittered delays overlap between retries
	if c.BaseBackoff > 0 && c.Factor < 2 {
		return errors.Newf("delivery: backoff factor must be >= 2, got %v", c.Factor)
	}
	return nil
}
