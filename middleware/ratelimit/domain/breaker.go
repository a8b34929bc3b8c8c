package domain

import "time"

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerSnapshot é uma cópia do estado de um breaker, para health/metrics.
type BreakerSnapshot struct {
	Key           string    `json:"key"`
	State         string    `json:"state"`
	Failures      int       `json:"failures"`
	LastFailureAt time.Time `json:"lastFailureAt,omitempty"`
}
