// Package withings is the client for the Withings endpoints bedsync uses
// besides the token endpoint: the authorize page, the notify (subscription)
// API and the sleep API.
package withings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bedsync/internal/circuitbreaker"
	"bedsync/internal/common/errors"
	commonhttp "bedsync/internal/common/http"
	"bedsync/internal/common/logging"
	"bedsync/internal/oauth2"
)

// Notification categories for bed events.
const (
	AppliBedIn  = 50
	AppliBedOut = 51
)

// statusInvalidToken is the Withings body status for an invalid access token.
const statusInvalidToken = 401

// TokenSource runs a call with a valid access token. *oauth2.Manager
// implements it, including the single refresh-and-retry on rejection.
type TokenSource interface {
	Do(ctx context.Context, call func(ctx context.Context, accessToken string) error) error
}

type Config struct {
	ClientID    string
	AuthURL     string
	NotifyURL   string
	SleepURL    string
	Scope       string
	CallbackURL string
}

type Client struct {
	config     Config
	tokens     TokenSource
	httpClient *http.Client
	breaker    *circuitbreaker.GoBreakerAdapter
	logger     logging.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func NewClient(config Config, tokens TokenSource, opts ...Option) (*Client, error) {
	if config.ClientID == "" {
		return nil, errors.ValidationError("client_id is required")
	}
	if config.CallbackURL == "" {
		return nil, errors.ValidationError("callback url is required")
	}
	if tokens == nil {
		return nil, errors.ValidationError("token source is required")
	}

	c := &Client{
		config:     config,
		tokens:     tokens,
		httpClient: commonhttp.NewHTTPClientWithTimeout(30 * time.Second),
		logger:     logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields(logging.String("component", "withings"))
	c.breaker = circuitbreaker.NewGoBreaker("withings-api", circuitbreaker.APIConfig, c.logger)
	return c, nil
}

// AuthorizeURL returns the consent page URL the user is redirected to.
func (c *Client) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", c.config.ClientID)
	params.Set("redirect_uri", c.config.CallbackURL)
	params.Set("scope", c.config.Scope)
	params.Set("state", state)

	sep := "?"
	if strings.Contains(c.config.AuthURL, "?") {
		sep = "&"
	}
	return c.config.AuthURL + sep + params.Encode()
}

// Subscribe registers the callback for bed-in, then bed-out notifications.
// The second subscription is not attempted if the first fails, and the
// first error is returned.
func (c *Client) Subscribe(ctx context.Context) error {
	for _, appli := range []int{AppliBedIn, AppliBedOut} {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.SubscribeAppli(ctx, appli); err != nil {
			return err
		}
	}
	return nil
}

// SubscribeAppli registers the callback URL for one notification category.
func (c *Client) SubscribeAppli(ctx context.Context, appli int) error {
	form := url.Values{}
	form.Set("action", "subscribe")
	form.Set("callbackurl", c.config.CallbackURL)
	form.Set("appli", strconv.Itoa(appli))

	err := c.tokens.Do(ctx, func(ctx context.Context, accessToken string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.NotifyURL, strings.NewReader(form.Encode()))
		if err != nil {
			return errors.InternalError("failed to create subscribe request", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return c.call(ctx, req, accessToken, nil)
	})
	if err != nil {
		return err
	}

	c.logger.Info("Subscribed to Withings notifications", logging.Int("appli", appli))
	return nil
}

// GetSleep queries the sleep API. Zero start or end leave that bound to
// the upstream default.
func (c *Client) GetSleep(ctx context.Context, start, end time.Time) ([]SleepSeries, error) {
	params := url.Values{}
	params.Set("action", "get")
	if !start.IsZero() {
		params.Set("startdate", strconv.FormatInt(start.Unix(), 10))
	}
	if !end.IsZero() {
		params.Set("enddate", strconv.FormatInt(end.Unix(), 10))
	}
	params.Set("data_fields", "hr,rr,snoring")

	endpoint := c.config.SleepURL + "?" + params.Encode()

	var body sleepBody
	err := c.tokens.Do(ctx, func(ctx context.Context, accessToken string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return errors.InternalError("failed to create sleep request", err)
		}
		body = sleepBody{}
		return c.call(ctx, req, accessToken, &body)
	})
	if err != nil {
		return nil, err
	}
	return body.Series, nil
}

// call sends req with bearer auth through the breaker and decodes the
// envelope body into out when out is non-nil. A 401, as HTTP status or
// envelope status, wraps oauth2.ErrTokenRejected.
func (c *Client) call(ctx context.Context, req *http.Request, accessToken string, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+accessToken)

	return c.breaker.Execute(ctx, func() error {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errors.UpstreamCallError(fmt.Sprintf("%s request failed", req.URL.Path), err)
		}
		defer commonhttp.DrainAndClose(resp.Body)

		if resp.StatusCode == http.StatusUnauthorized {
			return errors.UpstreamCallError("access token rejected", oauth2.ErrTokenRejected).WithStatus(resp.StatusCode)
		}
		if err := commonhttp.CheckStatus(resp); err != nil {
			return errors.UpstreamCallError(fmt.Sprintf("%s returned an error", req.URL.Path), err).WithStatus(resp.StatusCode)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return errors.UpstreamCallError("failed to read response", err)
		}

		var envelope apiEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			return errors.UpstreamCallError("failed to decode response", err)
		}
		switch envelope.Status {
		case 0:
		case statusInvalidToken:
			return errors.UpstreamCallError("access token rejected", oauth2.ErrTokenRejected).WithStatus(envelope.Status)
		default:
			return errors.UpstreamCallError(
				fmt.Sprintf("%s returned status %d", req.URL.Path, envelope.Status),
				fmt.Errorf("%s", envelope.Error),
			).WithStatus(envelope.Status)
		}

		if out == nil || len(envelope.Body) == 0 {
			return nil
		}
		if err := json.Unmarshal(envelope.Body, out); err != nil {
			return errors.UpstreamCallError("failed to decode response body", err)
		}
		return nil
	})
}
