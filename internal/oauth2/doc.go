// Package oauth2 manages the Withings OAuth2 credential: it stores the token
// record durably, refreshes it before expiry and on upstream rejection, and
// guarantees the rotating refresh token is spent by at most one request at
// a time.
package oauth2
