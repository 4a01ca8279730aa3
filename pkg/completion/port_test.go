package completion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOp struct {
	Overlapped
	id int
}

func TestPort(t *testing.T) {
	t.Run("FIFO", func(t *testing.T) {
		p := NewPort[*testOp]()
		for i := 1; i <= 3; i++ {
			require.NoError(t, p.Post(Completion[*testOp]{Key: Key(i), Bytes: i * 10}))
		}
		assert.Equal(t, 3, p.Len())

		for i := 1; i <= 3; i++ {
			c, err := p.Next()
			require.NoError(t, err)
			assert.Equal(t, Key(i), c.Key)
			assert.Equal(t, i*10, c.Bytes)
			assert.True(t, c.OK())
		}
		assert.Equal(t, 0, p.Len())
	})

	t.Run("Sentinel", func(t *testing.T) {
		p := NewPort[*testOp]()
		require.NoError(t, p.PostSentinel())
		c, err := p.Next()
		require.NoError(t, err)
		assert.True(t, c.Sentinel())
		assert.Nil(t, c.Op)
	})

	t.Run("NextBlocksUntilPost", func(t *testing.T) {
		p := NewPort[*testOp]()
		got := make(chan Key, 1)
		go func() {
			c, _ := p.Next()
			got <- c.Key
		}()

		select {
		case <-got:
			t.Fatal("Next returned before Post")
		case <-time.After(20 * time.Millisecond):
		}

		require.NoError(t, p.Post(Completion[*testOp]{Key: 9}))
		select {
		case k := <-got:
			assert.Equal(t, Key(9), k)
		case <-time.After(time.Second):
			t.Fatal("Next did not return")
		}
	})

	t.Run("CloseWakesAllWaiters", func(t *testing.T) {
		p := NewPort[*testOp]()
		var wg sync.WaitGroup
		errs := make(chan error, 4)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := p.Next()
				errs <- err
			}()
		}
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, p.Close())
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.ErrorIs(t, err, ErrPortClosed)
		}

		assert.ErrorIs(t, p.Post(Completion[*testOp]{Key: 1}), ErrPortClosed)
		assert.NoError(t, p.Close())
		assert.True(t, p.Closed())
	})

	t.Run("ManyProducersOneOrderPerProducer", func(t *testing.T) {
		p := NewPort[*testOp]()
		const producers, per = 4, 500
		var wg sync.WaitGroup
		for g := 0; g < producers; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < per; i++ {
					_ = p.Post(Completion[*testOp]{Key: Key(g + 1), Bytes: i})
				}
			}(g)
		}

		last := map[Key]int{}
		for i := 0; i < producers*per; i++ {
			c, err := p.Next()
			require.NoError(t, err)
			if prev, ok := last[c.Key]; ok {
				require.Greater(t, c.Bytes, prev)
			}
			last[c.Key] = c.Bytes
		}
		wg.Wait()
		assert.Equal(t, 0, p.Len())
	})
}

func TestOverlapped(t *testing.T) {
	t.Run("IdleWaitReturns", func(t *testing.T) {
		var o Overlapped
		assert.False(t, o.Pending())
		assert.NoError(t, o.Wait(context.Background()))
	})

	t.Run("DoubleStart", func(t *testing.T) {
		var o Overlapped
		require.NoError(t, o.Start())
		assert.ErrorIs(t, o.Start(), ErrOperationPending)
		o.Finish()
		assert.NoError(t, o.Start())
	})

	t.Run("WaitWakesOnFinish", func(t *testing.T) {
		var o Overlapped
		require.NoError(t, o.Start())

		done := make(chan error, 2)
		for i := 0; i < 2; i++ {
			go func() { done <- o.Wait(context.Background()) }()
		}
		time.Sleep(10 * time.Millisecond)
		o.Finish()

		for i := 0; i < 2; i++ {
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(time.Second):
				t.Fatal("waiter not woken")
			}
		}
		assert.False(t, o.Pending())
	})

	t.Run("WaitHonoursDeadline", func(t *testing.T) {
		var o Overlapped
		require.NoError(t, o.Start())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		start := time.Now()
		err := o.Wait(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
		assert.True(t, o.Pending())
	})
}
