// Package handlers implements bedsync's inbound HTTP surface: the OAuth
// authorize and callback endpoints, the Withings notification webhook and
// the health check.
package handlers

import (
	"context"

	"bedsync/internal/bedstate"
	"bedsync/internal/common/logging"
	"bedsync/internal/oauth2"
)

// TokenManager is the part of *oauth2.Manager the handlers use.
type TokenManager interface {
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	Authorized(ctx context.Context) bool
}

// Subscriber is the part of *withings.Client the handlers use.
type Subscriber interface {
	AuthorizeURL(state string) string
	Subscribe(ctx context.Context) error
}

// Observer is the part of *bedstate.Detector the handlers use.
type Observer interface {
	Observe(ctx context.Context, obs bedstate.Observation) bedstate.Result
	Snapshot() bedstate.Snapshot
}

// HealthCheck reports whether an optional backing service (Redis, the
// settings database) is reachable.
type HealthCheck func(ctx context.Context) error

type Handlers struct {
	tokens   TokenManager
	withings Subscriber
	detector Observer
	states   *StateStore
	checks   map[string]HealthCheck
	logger   logging.Logger
}

func New(tokens TokenManager, withings Subscriber, detector Observer, states *StateStore, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if states == nil {
		states = NewStateStore(DefaultStateTTL)
	}
	return &Handlers{
		tokens:   tokens,
		withings: withings,
		detector: detector,
		states:   states,
		checks:   make(map[string]HealthCheck),
		logger:   logger.WithFields(logging.String("component", "handlers")),
	}
}

// AddHealthCheck registers a named component reported by /health.
func (h *Handlers) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}
