package cancel

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoordinator(t *testing.T) {
	c := NewCoordinator()
	assert.False(t, c.Cancelled())
	assert.NoError(t, c.Check())
	assert.Equal(t, int64(0), c.Rejected())

	select {
	case <-c.Done():
		t.Fatal("done closed before cancel")
	default:
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Cancel()
		}()
	}
	wg.Wait()

	assert.True(t, c.Cancelled())
	<-c.Done()

	first := c.Check()
	second := c.Check()
	assert.Same(t, ErrCancelled, first)
	assert.Same(t, first, second)
	assert.Equal(t, int64(2), c.Rejected())
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, IsCancellation(ErrCancelled))
	assert.True(t, IsCancellation(fmt.Errorf("wrapped: %w", ErrCancelled)))
	assert.False(t, IsCancellation(fmt.Errorf("execution cancelled")))
	assert.False(t, IsCancellation(nil))
}
