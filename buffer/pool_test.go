package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_BorrowReturn(t *testing.T) {
	t.Run("BorrowReducesAvailable", func(t *testing.T) {
		p, err := NewPool(1024, 2)
		require.NoError(t, err)
		defer p.Close()

		assert.Equal(t, 2, p.Available())

		buf := p.Borrow(context.Background())
		require.NotNil(t, buf)
		assert.Equal(t, 1, p.Available())

		p.Return(buf)
		assert.Equal(t, 2, p.Available())
	})

	t.Run("ReturnIsIdempotent", func(t *testing.T) {
		p, err := NewPool(1024, 1)
		require.NoError(t, err)
		defer p.Close()

		buf := p.Borrow(context.Background())
		require.NotNil(t, buf)

		p.Return(buf)
		p.Return(buf)

		assert.Equal(t, 1, p.Available())
	})

	t.Run("BorrowBlocksWhenDrained", func(t *testing.T) {
		p, err := NewPool(1024, 1)
		require.NoError(t, err)
		defer p.Close()

		buf := p.Borrow(context.Background())
		require.NotNil(t, buf)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		second := p.Borrow(ctx)
		assert.Nil(t, second)
	})

	t.Run("NoLeakAfterManyCycles", func(t *testing.T) {
		p, err := NewPool(1024, 4)
		require.NoError(t, err)
		defer p.Close()

		for i := 0; i < 100; i++ {
			buf := p.Borrow(context.Background())
			require.NotNil(t, buf)
			buf.Append([]byte("hello"))
			p.Return(buf)
		}

		assert.Equal(t, 4, p.Available())
	})
}

func TestComposite_Append(t *testing.T) {
	t.Run("AppendCopiesIntoBackingAndAccumulatesLength", func(t *testing.T) {
		p, err := NewPool(1024, 1)
		require.NoError(t, err)
		defer p.Close()

		buf := p.Borrow(context.Background())
		require.NotNil(t, buf)

		a := []byte("abc")
		b := []byte("de")
		require.True(t, buf.Append(a))
		require.True(t, buf.Append(b))

		assert.Equal(t, int64(5), buf.Len())
		require.Len(t, buf.Segments(), 1)
		assert.Equal(t, "abcde", string(buf.Segments()[0]))
		assert.False(t, buf.Empty())

		// Mutating the caller's slices afterward must not affect the
		// copied bytes — this is a real copy, not a retained reference.
		a[0] = 'X'
		assert.Equal(t, "abcde", string(buf.Segments()[0]))
	})

	t.Run("AppendRejectsWriteExceedingCapacity", func(t *testing.T) {
		// Request exactly one page: allocMmap rounds capacity up to
		// pageSize, so a request of pageSize itself yields a backing
		// region of exactly that size with no slack to mask the test.
		p, err := NewPool(pageSize, 1)
		require.NoError(t, err)
		defer p.Close()

		buf := p.Borrow(context.Background())
		require.NotNil(t, buf)

		require.True(t, buf.Append(make([]byte, pageSize)))
		assert.False(t, buf.Append([]byte("x")))
		assert.Equal(t, int64(pageSize), buf.Len())
		assert.Equal(t, pageSize, buf.Cap())
	})
}
