package oauth2

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"bedsync/internal/circuitbreaker"
	"bedsync/internal/common/errors"
	commonhttp "bedsync/internal/common/http"
	"bedsync/internal/common/logging"
)

const (
	// DefaultRefreshMargin is how long before expiry a token counts as stale.
	DefaultRefreshMargin = 120 * time.Second
	// DefaultRefreshInterval is the proactive refresh worker's tick.
	DefaultRefreshInterval = time.Minute

	refreshFlightKey = "refresh"
)

var (
	// ErrUnauthorized is returned while no credential has been stored yet.
	ErrUnauthorized = errors.UnauthorizedError("no Withings credentials stored; complete the /authorize flow")

	// ErrTokenRejected is wrapped by API clients when the upstream answers a
	// call with an authentication failure. Manager.Do reacts to it.
	ErrTokenRejected = stderrors.New("access token rejected by upstream")
)

// Config holds the OAuth2 client settings for the Withings token endpoint.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	RedirectURL  string
}

// Manager owns the credential record: it is the only writer of its
// TokenStorage and hands out valid access tokens, refreshing them when
// needed. All refreshes, reactive or proactive, go through one
// singleflight group so the rotating refresh token is never spent twice.
type Manager struct {
	config     Config
	storage    TokenStorage
	httpClient *http.Client
	breaker    *circuitbreaker.GoBreakerAdapter
	now        func() time.Time
	margin     time.Duration
	interval   time.Duration
	logger     logging.Logger

	// mu guards the cached record. loaded is false until storage was read.
	// unsaved is set while the cached record is newer than the stored one.
	mu      sync.RWMutex
	token   *Token
	loaded  bool
	unsaved bool

	// writeMu serializes token endpoint round trips and their persistence,
	// so a code exchange cannot interleave with a refresh.
	writeMu sync.Mutex
	flight  singleflight.Group

	workerMu     sync.Mutex
	cancelWorker context.CancelFunc
	workerDone   chan struct{}
}

// Option customizes a Manager.
type Option func(*Manager)

func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.httpClient = client }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithRefreshMargin(margin time.Duration) Option {
	return func(m *Manager) { m.margin = margin }
}

func WithRefreshInterval(interval time.Duration) Option {
	return func(m *Manager) { m.interval = interval }
}

func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager validates config and returns a Manager backed by storage. The
// proactive refresh worker is not running until Start is called.
func NewManager(config Config, storage TokenStorage, opts ...Option) (*Manager, error) {
	if config.ClientID == "" {
		return nil, errors.ValidationError("client_id is required")
	}
	if config.ClientSecret == "" {
		return nil, errors.ValidationError("client_secret is required")
	}
	if config.TokenURL == "" {
		return nil, errors.ValidationError("token_url is required")
	}
	if storage == nil {
		return nil, errors.ValidationError("token storage is required")
	}

	m := &Manager{
		config:     config,
		storage:    storage,
		httpClient: commonhttp.NewHTTPClientWithTimeout(30 * time.Second),
		now:        time.Now,
		margin:     DefaultRefreshMargin,
		interval:   DefaultRefreshInterval,
		logger:     logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.interval <= 0 {
		m.interval = DefaultRefreshInterval
	}
	m.logger = m.logger.WithFields(logging.String("component", "oauth2"))
	m.breaker = circuitbreaker.NewGoBreaker("withings-token", circuitbreaker.OAuthConfig, m.logger)

	return m, nil
}

// Current returns a copy of the stored record, or nil when unauthorized.
func (m *Manager) Current(ctx context.Context) (*Token, error) {
	token, err := m.current(ctx)
	if err != nil || token == nil {
		return nil, err
	}
	copied := *token
	return &copied, nil
}

// Authorized reports whether a credential record exists.
func (m *Manager) Authorized(ctx context.Context) bool {
	token, err := m.current(ctx)
	return err == nil && token != nil
}

func (m *Manager) current(ctx context.Context) (*Token, error) {
	m.mu.RLock()
	if m.loaded {
		token := m.token
		m.mu.RUnlock()
		return token, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return m.token, nil
	}

	token, err := m.storage.LoadToken(ctx)
	if err != nil {
		return nil, err
	}
	m.token = token
	m.loaded = true
	return token, nil
}

func (m *Manager) publish(token *Token, saved bool) {
	m.mu.Lock()
	m.token = token
	m.loaded = true
	m.unsaved = !saved
	m.mu.Unlock()
}

// AccessToken returns an access token valid for at least the refresh
// margin, refreshing first if needed. Fails with ErrUnauthorized when no
// record exists.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	token, err := m.current(ctx)
	if err != nil {
		return "", err
	}
	if token == nil {
		return "", ErrUnauthorized
	}
	if !token.ExpiresWithin(m.now(), m.margin) {
		return token.AccessToken, nil
	}

	refreshed, err := m.refreshFrom(ctx, token, false)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Refresh spends the current refresh token and stores the rotated record.
// Concurrent callers share a single round trip.
func (m *Manager) Refresh(ctx context.Context) (*Token, error) {
	token, err := m.current(ctx)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, ErrUnauthorized
	}
	return m.refreshFrom(ctx, token, true)
}

// refreshFrom refreshes on behalf of a caller that saw stale. If another
// flight already replaced stale with a fresh record, that record is reused
// and no request is made. force refreshes even when stale has not reached
// the margin, which is what a rejected access token calls for.
func (m *Manager) refreshFrom(ctx context.Context, stale *Token, force bool) (*Token, error) {
	// The shared flight must not die with whichever caller started it.
	flightCtx := context.WithoutCancel(ctx)

	result := m.flight.DoChan(refreshFlightKey, func() (interface{}, error) {
		current, err := m.current(flightCtx)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, ErrUnauthorized
		}
		fresh := !current.ExpiresWithin(m.now(), m.margin)
		if fresh && (current.AccessToken != stale.AccessToken || !force) {
			return current, nil
		}
		return m.refresh(flightCtx, current)
	})

	select {
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Token), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context, current *Token) (*Token, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.logger.Debug("Refreshing Withings access token",
		logging.Time("expires_at", current.ExpiresAt))

	form := url.Values{}
	form.Set("action", "requesttoken")
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", m.config.ClientID)
	form.Set("client_secret", m.config.ClientSecret)
	form.Set("refresh_token", current.RefreshToken)

	resp, err := m.requestToken(ctx, form)
	if err != nil {
		return nil, err
	}

	token := m.tokenFromResponse(resp)
	if token.UserID == "" {
		token.UserID = current.UserID
	}

	if err := m.persist(ctx, token); err != nil {
		return nil, err
	}

	m.logger.Info("Withings access token refreshed",
		logging.Time("expires_at", token.ExpiresAt))
	return token, nil
}

// ExchangeCode trades an authorization code for the initial record and
// stores it, replacing any previous record.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	if code == "" {
		return nil, errors.ValidationError("authorization code is required")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	form := url.Values{}
	form.Set("action", "requesttoken")
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", m.config.ClientID)
	form.Set("client_secret", m.config.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", m.config.RedirectURL)

	resp, err := m.requestToken(ctx, form)
	if err != nil {
		return nil, err
	}

	token := m.tokenFromResponse(resp)
	if err := m.persist(ctx, token); err != nil {
		return nil, err
	}

	m.logger.Info("Withings account linked",
		logging.String("userid", token.UserID),
		logging.Time("expires_at", token.ExpiresAt))
	return token, nil
}

// persist writes token to storage and caches it. The upstream has already
// retired the previous refresh token, so a failed write still caches the
// new record, marks it unsaved and returns a persistence error. The
// proactive worker retries the write on its next tick.
func (m *Manager) persist(ctx context.Context, token *Token) error {
	if err := m.storage.SaveToken(ctx, token); err != nil {
		m.publish(token, false)
		m.logger.Error("Failed to persist Withings token", err)
		if errors.IsType(err, errors.ErrTypePersistence) {
			return err
		}
		return errors.PersistenceError("failed to persist token", err)
	}
	m.publish(token, true)
	return nil
}

// saveUnsaved retries the write of a record whose earlier save failed.
func (m *Manager) saveUnsaved(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	token, unsaved := m.token, m.unsaved
	m.mu.RUnlock()
	if !unsaved || token == nil {
		return nil
	}

	if err := m.storage.SaveToken(ctx, token); err != nil {
		return errors.PersistenceError("failed to persist token", err)
	}

	m.mu.Lock()
	if m.token == token {
		m.unsaved = false
	}
	m.mu.Unlock()
	m.logger.Info("Stored Withings token after earlier write failure")
	return nil
}

func (m *Manager) tokenFromResponse(resp *TokenResponse) *Token {
	return &Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    m.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		UserID:       string(resp.UserID),
	}
}

// requestToken posts form to the token endpoint. Rejections (non-2xx, or a
// non-zero Withings status) are upstream_auth errors; transport failures are
// upstream_call errors.
func (m *Manager) requestToken(ctx context.Context, form url.Values) (*TokenResponse, error) {
	var envelope tokenEnvelope
	var statusCode int

	err := m.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return errors.InternalError("failed to create token request", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := m.httpClient.Do(req)
		if err != nil {
			return errors.UpstreamCallError("token request failed", err)
		}
		defer commonhttp.DrainAndClose(resp.Body)
		statusCode = resp.StatusCode

		if err := commonhttp.CheckStatus(resp); err != nil {
			return errors.UpstreamAuthError("token endpoint rejected the request", err).WithStatus(resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return errors.UpstreamCallError("failed to read token response", err)
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return errors.UpstreamAuthError("failed to decode token response", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if envelope.Status != 0 {
		return nil, errors.UpstreamAuthError(
			fmt.Sprintf("token endpoint returned status %d", envelope.Status),
			stderrors.New(envelope.Error),
		).WithStatus(envelope.Status)
	}

	resp := &envelope.Body
	if resp.AccessToken == "" || resp.RefreshToken == "" || resp.ExpiresIn <= 0 {
		return nil, errors.UpstreamAuthError("token response is incomplete", nil).WithStatus(statusCode)
	}
	return resp, nil
}

// Do runs call with a valid access token. If call fails with an error
// wrapping ErrTokenRejected, the token is refreshed once and call is retried
// once; a second rejection is returned as is.
func (m *Manager) Do(ctx context.Context, call func(ctx context.Context, accessToken string) error) error {
	token, err := m.current(ctx)
	if err != nil {
		return err
	}
	if token == nil {
		return ErrUnauthorized
	}
	if token.ExpiresWithin(m.now(), m.margin) {
		if token, err = m.refreshFrom(ctx, token, false); err != nil {
			return err
		}
	}

	err = call(ctx, token.AccessToken)
	if !stderrors.Is(err, ErrTokenRejected) {
		return err
	}

	m.logger.Warn("Access token rejected, refreshing and retrying once")
	refreshed, refreshErr := m.refreshFrom(ctx, token, true)
	if refreshErr != nil {
		return refreshErr
	}
	return call(ctx, refreshed.AccessToken)
}

// Start launches the proactive refresh worker. It stops when ctx is
// cancelled or Close is called. Calling Start twice is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.workerMu.Lock()
	defer m.workerMu.Unlock()
	if m.cancelWorker != nil {
		return
	}

	workerCtx, cancel := context.WithCancel(ctx)
	m.cancelWorker = cancel
	m.workerDone = make(chan struct{})
	go m.runProactiveRefresh(workerCtx, m.workerDone)
}

// Close stops the proactive refresh worker and waits for it to exit.
func (m *Manager) Close() error {
	m.workerMu.Lock()
	cancel, done := m.cancelWorker, m.workerDone
	m.cancelWorker, m.workerDone = nil, nil
	m.workerMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (m *Manager) runProactiveRefresh(ctx context.Context, done chan struct{}) {
	defer close(done)
	m.logger.Info("Starting proactive refresh worker", logging.Duration("interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.refreshIfNeeded(ctx)
		case <-ctx.Done():
			m.logger.Info("Shutting down proactive refresh worker")
			return
		}
	}
}

// refreshIfNeeded is one tick of the worker. Failures are logged only; the
// next tick or the next caller tries again.
func (m *Manager) refreshIfNeeded(ctx context.Context) {
	token, err := m.current(ctx)
	if err != nil {
		m.logger.Error("Failed to load token for proactive refresh", err)
		return
	}
	if token == nil {
		m.logger.Debug("No credentials yet, skipping proactive refresh")
		return
	}
	if err := m.saveUnsaved(ctx); err != nil {
		m.logger.Error("Retrying token write failed", err)
	}
	if !token.ExpiresWithin(m.now(), m.margin) {
		return
	}

	if _, err := m.refreshFrom(ctx, token, false); err != nil {
		m.logger.Error("Proactive token refresh failed", err)
	}
}
