package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcLimiter(t *testing.T) {
	cl := NewConcLimiter(2)
	require.NoError(t, cl.IncreaseContext(context.Background()))
	require.NoError(t, cl.IncreaseContext(context.Background()))
	assert.Equal(t, 2, cl.Running())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, context.DeadlineExceeded, cl.IncreaseContext(ctx))

	cl.Decrease()
	cl.Decrease()
	cl.Decrease()
	assert.Equal(t, 0, cl.Running())
	cl.Wait()

	assert.Equal(t, 1, cap(NewConcLimiter(0).Pool))
}
