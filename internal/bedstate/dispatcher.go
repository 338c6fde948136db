package bedstate

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"bedsync/internal/common/errors"
	commonhttp "bedsync/internal/common/http"
	"bedsync/internal/common/logging"
)

// DefaultDispatchTimeout bounds each outbound side-effect call.
const DefaultDispatchTimeout = 5 * time.Second

// Dispatcher performs the side effect for a transition.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// HTTPDispatcher issues a GET to the bed-in or bed-out URL.
type HTTPDispatcher struct {
	bedInURL  string
	bedOutURL string
	client    *http.Client
	logger    logging.Logger
}

func NewHTTPDispatcher(bedInURL, bedOutURL string, timeout time.Duration, logger logging.Logger) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &HTTPDispatcher{
		bedInURL:  bedInURL,
		bedOutURL: bedOutURL,
		client:    commonhttp.NewHTTPClientWithTimeout(timeout),
		logger:    logger,
	}
}

func (h *HTTPDispatcher) targetFor(state State) string {
	switch state {
	case InBed:
		return h.bedInURL
	case OutOfBed:
		return h.bedOutURL
	default:
		return ""
	}
}

// Dispatch sends one GET and does not retry. Non-2xx and transport errors
// are upstream_call errors.
func (h *HTTPDispatcher) Dispatch(ctx context.Context, event Event) error {
	target := h.targetFor(event.State)
	if target == "" {
		return errors.ValidationError("no target for state " + event.State.String())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errors.InternalError("failed to create dispatch request", err).WithContext("url", target)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.UpstreamCallError("dispatch request failed", err).WithContext("url", target)
	}
	defer commonhttp.DrainAndClose(resp.Body)

	if err := commonhttp.CheckStatus(resp); err != nil {
		return errors.UpstreamCallError("dispatch target returned an error", err).
			WithStatus(resp.StatusCode).
			WithContext("url", target)
	}

	h.logger.Info("Triggered bed event",
		logging.String("state", event.State.String()),
		logging.String("url", target),
		logging.Int("status", resp.StatusCode))
	return nil
}

// Publisher is the subset of the Redis client RedisDispatcher needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// RedisDispatcher publishes each transition as JSON on a pub/sub channel.
type RedisDispatcher struct {
	publisher Publisher
	channel   string
}

func NewRedisDispatcher(publisher Publisher, channel string) *RedisDispatcher {
	return &RedisDispatcher{publisher: publisher, channel: channel}
}

// eventMessage is the published payload.
type eventMessage struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	Previous   string    `json:"previous"`
	ObservedAt time.Time `json:"observed_at"`
	Source     string    `json:"source,omitempty"`
}

func (r *RedisDispatcher) Dispatch(ctx context.Context, event Event) error {
	payload, err := json.Marshal(eventMessage{
		ID:         event.ID,
		State:      event.State.String(),
		Previous:   event.Previous.String(),
		ObservedAt: event.ObservedAt,
		Source:     event.Source,
	})
	if err != nil {
		return errors.InternalError("failed to encode bed event", err)
	}
	if err := r.publisher.Publish(ctx, r.channel, payload); err != nil {
		return errors.UpstreamCallError("failed to publish bed event", err).WithContext("channel", r.channel)
	}
	return nil
}

// MultiDispatcher runs every dispatcher in order. A failure does not stop
// the others; all failures are returned joined.
type MultiDispatcher []Dispatcher

func (m MultiDispatcher) Dispatch(ctx context.Context, event Event) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
