package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, Min: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestDoSucceedsAfterConflicts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), logger.Nop(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: position taken", domain.ErrConcurrentWrite)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), logger.Nop(), func(ctx context.Context) error {
		calls++
		return domain.ErrConcurrentWrite
	})

	assert.Equal(t, 5, calls)
	var transient *domain.TransientError
	require.True(t, errors.As(err, &transient))
	assert.Equal(t, 5, transient.Attempts)
	assert.True(t, domain.IsTransient(err))
	assert.True(t, domain.IsConcurrentWrite(err))
}

func TestDoDoesNotRetryDomainErrors(t *testing.T) {
	for _, want := range []error{
		domain.NewValidationError("pos", "bad"),
		domain.NewNotFoundError("playlist", "x"),
		&domain.ConflictError{Message: "role"},
		errors.New("disk on fire"),
	} {
		calls := 0
		err := Do(context.Background(), fastPolicy(5), logger.Nop(), func(ctx context.Context) error {
			calls++
			return want
		})
		assert.Equal(t, 1, calls)
		assert.Same(t, want, err)
	}
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Attempts: 10, Min: 50 * time.Millisecond, Max: 50 * time.Millisecond}, logger.Nop(), func(ctx context.Context) error {
		calls++
		cancel()
		return domain.ErrConcurrentWrite
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicyBackOffBounds(t *testing.T) {
	b := DefaultPolicy().backOff()
	b.Reset()
	for i := 0; i < 50; i++ {
		d := b.NextBackOff()
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}

	zero := Policy{Attempts: 1}.backOff()
	zero.Reset()
	assert.Equal(t, time.Duration(0), zero.NextBackOff())
}
