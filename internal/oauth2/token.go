package oauth2

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"bedsync/internal/common/errors"
)

// Token is the persisted credential record for the linked Withings account.
// A stored Token is always complete; see Validate.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	// UserID is informational and may be empty.
	UserID string `json:"userid"`
}

// Validate rejects partial records. Storages call it before every write.
func (t *Token) Validate() error {
	if t == nil {
		return errors.ValidationError("token is nil")
	}
	if t.AccessToken == "" {
		return errors.ValidationError("access_token is required")
	}
	if t.RefreshToken == "" {
		return errors.ValidationError("refresh_token is required")
	}
	if t.ExpiresAt.IsZero() {
		return errors.ValidationError("expires_at is required")
	}
	return nil
}

// ExpiresWithin reports whether fewer than margin remain before expiry at now.
func (t *Token) ExpiresWithin(now time.Time, margin time.Duration) bool {
	return !now.Before(t.ExpiresAt.Add(-margin))
}

// tokenEnvelope is the Withings response wrapper: HTTP 200 with a non-zero
// status signals an API-level error.
type tokenEnvelope struct {
	Status int           `json:"status"`
	Error  string        `json:"error,omitempty"`
	Body   TokenResponse `json:"body"`
}

// TokenResponse is the body of a successful requesttoken call.
type TokenResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	ExpiresIn    int            `json:"expires_in"`
	UserID       flexibleString `json:"userid"`
	Scope        string         `json:"scope,omitempty"`
	TokenType    string         `json:"token_type,omitempty"`
}

// flexibleString accepts both "123" and 123; Withings has sent userid as either.
type flexibleString string

func (f *flexibleString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*f = flexibleString(n.String())
	return nil
}
