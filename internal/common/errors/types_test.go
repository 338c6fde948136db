package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := UpstreamAuthError("refresh rejected", stderrors.New("invalid_grant")).WithStatus(400)
	assert.Equal(t, "upstream_auth: refresh rejected: status=400: cause=invalid_grant", err.Error())

	withCtx := ValidationError("bad state").WithContext("state", "abc")
	assert.Contains(t, withCtx.Error(), "context={state=abc}")
}

func TestAppError_Unwrap(t *testing.T) {
	cause := stderrors.New("disk full")
	err := PersistenceError("save token", cause)
	assert.ErrorIs(t, err, cause)
}

func TestIsType(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		errType  ErrorType
		expected bool
	}{
		{"nil", nil, ErrTypeInternal, false},
		{"foreign error", stderrors.New("x"), ErrTypeInternal, false},
		{"direct match", UnauthorizedError("no token"), ErrTypeUnauthorized, true},
		{"wrapped by fmt", fmt.Errorf("get token: %w", UnauthorizedError("no token")), ErrTypeUnauthorized, true},
		{"nested cause", UpstreamCallError("subscribe", PersistenceError("save", nil)), ErrTypePersistence, true},
		{"mismatch", UpstreamCallError("subscribe", nil), ErrTypeUpstreamAuth, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsType(tt.err, tt.errType))
		})
	}
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrorType(""), GetType(nil))
	assert.Equal(t, ErrTypeInternal, GetType(stderrors.New("x")))
	assert.Equal(t, ErrTypeConfig, GetType(fmt.Errorf("load: %w", ConfigError("missing"))))
}
