package engine

import (
	"math"
	"time"
)

// BackoffConfig configures retry delays between attempts of one stage.
type BackoffConfig struct {
	InitialDelayMS int
	BackoffFactor  float64
	MaxDelayMS     int
}

func defaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelayMS: 1000,
		BackoffFactor:  2.0,
		MaxDelayMS:     30_000,
	}
}

func backoffConfigFor(cfg *RunConfigFile) BackoffConfig {
	out := defaultBackoffConfig()
	if cfg == nil {
		return out
	}
	b := cfg.Retry.Backoff
	if b.InitialDelayMS != nil {
		out.InitialDelayMS = *b.InitialDelayMS
	}
	if b.BackoffFactor > 0 {
		out.BackoffFactor = b.BackoffFactor
	}
	if b.MaxDelayMS != nil {
		out.MaxDelayMS = *b.MaxDelayMS
	}

	if out.InitialDelayMS < 0 {
		out.InitialDelayMS = 0
	}
	if out.MaxDelayMS < 0 {
		out.MaxDelayMS = 0
	}
	if out.BackoffFactor <= 0 {
		out.BackoffFactor = 1.0
	}
	return out
}

// DelayForAttempt returns the sleep after the given failed attempt, counted
// from 1: InitialDelayMS * BackoffFactor^(attempt-1), capped at MaxDelayMS.
func DelayForAttempt(attempt int, cfg BackoffConfig) time.Duration {
	if cfg.InitialDelayMS <= 0 {
		return 0
	}
	ms := float64(cfg.InitialDelayMS) * math.Pow(cfg.BackoffFactor, float64(max(attempt, 1)-1))
	if cfg.MaxDelayMS > 0 && ms > float64(cfg.MaxDelayMS) {
		ms = float64(cfg.MaxDelayMS)
	}
	return time.Duration(ms) * time.Millisecond
}

// retryDelay honors a provider Retry-After when it exceeds the computed
// backoff. Retry-After is capped like any other delay.
func retryDelay(attempt int, cfg BackoffConfig, retryAfterMS int64) time.Duration {
	d := DelayForAttempt(attempt, cfg)
	if retryAfterMS <= 0 {
		return d
	}
	ra := time.Duration(retryAfterMS) * time.Millisecond
	if cfg.MaxDelayMS > 0 {
		ra = min(ra, time.Duration(cfg.MaxDelayMS)*time.Millisecond)
	}
	return max(d, ra)
}
