package circuitbreaker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bedsync/internal/common/errors"
	"bedsync/internal/common/logging"
)

func testConfig() Config {
	return Config{
		MaxFailures:           3,
		Timeout:               50 * time.Millisecond,
		MaxConcurrentRequests: 1,
	}
}

func TestGoBreakerAdapter(t *testing.T) {
	logger := logging.GetGlobalLogger()

	t.Run("basic operation", func(t *testing.T) {
		cb := NewGoBreaker("test-basic", testConfig(), logger)
		assert.Equal(t, StateClosed, cb.State())

		err := cb.Execute(context.Background(), func() error { return nil })
		assert.NoError(t, err)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("circuit opens after failures", func(t *testing.T) {
		cb := NewGoBreaker("test-failures", testConfig(), logger)

		for i := 0; i < 3; i++ {
			err := cb.Execute(context.Background(), func() error {
				return fmt.Errorf("failure %d", i)
			})
			assert.Error(t, err)
		}
		assert.Equal(t, StateOpen, cb.State())

		err := cb.Execute(context.Background(), func() error {
			t.Fatal("should not be called while open")
			return nil
		})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeUpstreamCall))
	})

	t.Run("recovers after timeout", func(t *testing.T) {
		cb := NewGoBreaker("test-recover", testConfig(), logger)
		for i := 0; i < 3; i++ {
			_ = cb.Execute(context.Background(), func() error { return fmt.Errorf("down") })
		}
		require.Equal(t, StateOpen, cb.State())

		time.Sleep(80 * time.Millisecond)
		assert.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("client errors do not trip", func(t *testing.T) {
		cb := NewGoBreaker("test-client-errors", testConfig(), logger)
		for i := 0; i < 10; i++ {
			err := cb.Execute(context.Background(), func() error {
				return errors.UpstreamCallError("rejected", nil).WithStatus(401)
			})
			assert.Error(t, err)
			_ = cb.Execute(context.Background(), func() error {
				return errors.UpstreamAuthError("invalid_grant", nil)
			})
		}
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("cancelled context short-circuits", func(t *testing.T) {
		cb := NewGoBreaker("test-ctx", testConfig(), logger)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := cb.Execute(ctx, func() error {
			t.Fatal("should not be called")
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("invalid config falls back to defaults", func(t *testing.T) {
		cb := NewGoBreaker("test-invalid", Config{}, logger)
		assert.Equal(t, "test-invalid", cb.Name())
		assert.Equal(t, StateClosed, cb.State())
	})
}
