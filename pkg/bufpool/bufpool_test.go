package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	t.Run("DefaultSize", func(t *testing.T) {
		p := New(0, 0)
		assert.Equal(t, DefaultSize, p.Size())
	})

	t.Run("GetReturnsFullLength", func(t *testing.T) {
		p := New(8192, 0)
		buf, err := p.Get()
		require.NoError(t, err)
		assert.Len(t, buf, 8192)
		assert.Equal(t, int64(1), p.Outstanding())
		p.Put(buf)
		assert.Equal(t, int64(0), p.Outstanding())
	})

	t.Run("ResliceRestoredOnPut", func(t *testing.T) {
		p := New(64, 0)
		buf, _ := p.Get()
		p.Put(buf[:3])

		again, _ := p.Get()
		assert.Len(t, again, 64)
		p.Put(again)
	})

	t.Run("NilPutIgnored", func(t *testing.T) {
		p := New(64, 0)
		p.Put(nil)
		assert.Equal(t, int64(0), p.Outstanding())
	})

	t.Run("ForeignBufferDropped", func(t *testing.T) {
		p := New(64, 0)
		_, _ = p.Get()
		p.Put(make([]byte, 8))
		assert.Equal(t, int64(0), p.Outstanding())
	})

	t.Run("LimitExhausts", func(t *testing.T) {
		p := New(16, 2)
		a, err := p.Get()
		require.NoError(t, err)
		_, err = p.Get()
		require.NoError(t, err)

		_, err = p.Get()
		assert.ErrorIs(t, err, ErrExhausted)
		assert.Equal(t, int64(2), p.Outstanding())

		p.Put(a)
		_, err = p.Get()
		assert.NoError(t, err)
	})
}

func TestPoolConcurrent(t *testing.T) {
	p := New(128, 0)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				buf, err := p.Get()
				if err != nil {
					t.Error(err)
					return
				}
				buf[0] = byte(j)
				p.Put(buf)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), p.Outstanding())
	assert.LessOrEqual(t, p.Allocated(), int64(16*200))
}
