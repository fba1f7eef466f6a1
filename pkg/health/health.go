package health

import (
	"context"
	"time"
)

// CheckType represents the type of endpoint probe
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result represents the outcome of one probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all endpoint probes must implement
type Checker interface {
	// Check probes the endpoint once
	Check(ctx context.Context) Result

	// Type returns the type of probe
	Type() CheckType
}

// Config contains the probing policy shared by every storage element
type Config struct {
	// Interval is the time between probes
	Interval time.Duration

	// Timeout bounds a single probe
	Timeout time.Duration

	// Retries is the number of consecutive failures before an SE is banned
	Retries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	}
}

// Status tracks the probe history of one storage element
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result

	// Healthy is false once Retries consecutive probes have failed
	Healthy bool
}

// NewStatus creates a Status that starts out healthy
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update folds a probe result into the status and reports whether the
// healthy flag changed
func (s *Status) Update(result Result, config Config) bool {
	was := s.Healthy
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0

		// Mark as unhealthy after reaching retry threshold
		retries := config.Retries
		if retries < 1 {
			retries = 1
		}
		if s.ConsecutiveFailures >= retries {
			s.Healthy = false
		}
	}
	return was != s.Healthy
}
