package relorm_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relorm/relorm"
)

func TestNotFoundError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := relorm.NewNotFoundError("Order")
		assert.Equal(t, "relorm: Order not found", err.Error())

		withID := relorm.NewNotFoundErrorWithID("Order", int64(7))
		assert.Equal(t, "relorm: Order not found (id=7)", withID.Error())
		assert.Equal(t, int64(7), withID.ID())
	})

	t.Run("Is", func(t *testing.T) {
		err := relorm.NewNotFoundError("Order")
		assert.True(t, errors.Is(err, relorm.ErrNotFound))
	})

	t.Run("IsNotFound", func(t *testing.T) {
		err := relorm.NewNotFoundError("LineItem")
		assert.True(t, relorm.IsNotFound(err))

		// Wrapped error
		wrapped := fmt.Errorf("wrapper: %w", err)
		assert.True(t, relorm.IsNotFound(wrapped))

		// Sentinel error
		assert.True(t, relorm.IsNotFound(relorm.ErrNotFound))

		// Non-matching error
		assert.False(t, relorm.IsNotFound(errors.New("other error")))
		assert.False(t, relorm.IsNotFound(nil))
	})
}

func TestNotSingularError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := relorm.NewNotSingularError("Order")
		assert.Equal(t, "relorm: Order not singular", err.Error())
	})

	t.Run("Is", func(t *testing.T) {
		err := relorm.NewNotSingularError("Order")
		assert.True(t, errors.Is(err, relorm.ErrNotSingular))
		assert.True(t, relorm.IsNotSingular(err))
	})
}

func TestQueryError(t *testing.T) {
	cause := errors.New("boom")
	err := relorm.NewQueryError("Order", "find", cause)

	assert.Equal(t, "relorm: querying Order (find): boom", err.Error())
	assert.True(t, relorm.IsQueryError(err))
	require.ErrorIs(t, err, cause)
}

func TestMutationError(t *testing.T) {
	cause := errors.New("boom")
	err := relorm.NewMutationError("Order", "insert", cause)

	assert.Equal(t, "relorm: insert Order: boom", err.Error())
	assert.True(t, relorm.IsMutationError(err))
	require.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("save: %w", err)
	assert.True(t, relorm.IsMutationError(wrapped))
}
