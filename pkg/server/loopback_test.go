package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/echoport/pkg/completion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loopbackDrivers() []string {
	names := []string{completion.DriverNet}
	if runtime.GOOS == "linux" {
		names = append(names, completion.DriverEpoll)
	}
	return names
}

type loopback struct {
	srv  *Server
	addr string
	done chan error
}

func startLoopback(t *testing.T, driverName string, cfg Config, opts completion.Options) *loopback {
	t.Helper()
	d, err := NewDriver(driverName, opts)
	if errors.Is(err, completion.ErrUnsupported) {
		t.Skipf("driver %s unsupported: %v", driverName, err)
	}
	require.NoError(t, err)

	cfg.BindAddress = "127.0.0.1"
	cfg.Port = "0"
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	srv, err := New(cfg, d, nil)
	require.NoError(t, err)

	lb := &loopback{srv: srv, done: make(chan error, 1)}
	go func() { lb.done <- srv.Run(context.Background()) }()
	t.Cleanup(func() {
		srv.Terminate()
		select {
		case <-lb.done:
		case <-time.After(waitFor):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	addr, err := srv.WaitRunning(ctx, 1)
	require.NoError(t, err)
	lb.addr = addr.String()
	return lb
}

func (lb *loopback) dial(t *testing.T) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", lb.addr, waitFor)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (lb *loopback) stop(t *testing.T) error {
	t.Helper()
	lb.srv.Terminate()
	select {
	case err := <-lb.done:
		return err
	case <-time.After(waitFor):
		t.Fatal("server did not stop")
		return nil
	}
}

// roundTrip writes payload in random chunks while reading the echo
// concurrently, and returns what came back.
func roundTrip(c net.Conn, payload []byte, rng *rand.Rand) ([]byte, error) {
	_ = c.SetDeadline(time.Now().Add(10 * time.Second))

	got := make([]byte, len(payload))
	readErr := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(c, got)
		readErr <- err
	}()

	for off := 0; off < len(payload); {
		n := 1 + rng.Intn(20000)
		if off+n > len(payload) {
			n = len(payload) - off
		}
		if _, err := c.Write(payload[off : off+n]); err != nil {
			return nil, err
		}
		off += n
	}
	if err := <-readErr; err != nil {
		return nil, err
	}
	return got, nil
}

func mustRoundTrip(t *testing.T, c net.Conn, payload []byte, seed int64) {
	t.Helper()
	got, err := roundTrip(c, payload, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func forEachSetup(t *testing.T, fn func(t *testing.T, driverName string, mode AcceptMode)) {
	for _, name := range loopbackDrivers() {
		for _, mode := range []AcceptMode{AcceptExtended, AcceptSimple} {
			t.Run(name+"/"+string(mode), func(t *testing.T) {
				fn(t, name, mode)
			})
		}
	}
}

func TestLoopbackEcho(t *testing.T) {
	forEachSetup(t, func(t *testing.T, driverName string, mode AcceptMode) {
		lb := startLoopback(t, driverName, Config{AcceptMode: mode}, completion.DefaultOptions())

		const clients = 4
		conns := make([]net.Conn, clients)
		for i := range conns {
			conns[i] = lb.dial(t)
		}

		var wg sync.WaitGroup
		for i, c := range conns {
			wg.Add(1)
			go func(c net.Conn, seed int64) {
				defer wg.Done()
				rng := rand.New(rand.NewSource(seed))
				payload := make([]byte, 1+rng.Intn(256*1024))
				rng.Read(payload)

				got, err := roundTrip(c, payload, rng)
				if assert.NoError(t, err) {
					assert.Equal(t, payload, got)
				}
			}(c, int64(i+1))
		}
		wg.Wait()
	})
}

func TestLoopbackPartialSends(t *testing.T) {
	for _, name := range loopbackDrivers() {
		for _, chunk := range []int{1, 8192} {
			t.Run(fmt.Sprintf("%s/chunk=%d", name, chunk), func(t *testing.T) {
				opts := completion.DefaultOptions()
				opts.MaxSendChunk = chunk
				lb := startLoopback(t, name, Config{}, opts)

				mustRoundTrip(t, lb.dial(t), pattern(20000), int64(chunk))
			})
		}
	}
}

func TestLoopbackBacklog(t *testing.T) {
	for _, name := range loopbackDrivers() {
		t.Run(name, func(t *testing.T) {
			lb := startLoopback(t, name, Config{PendingAccepts: 1}, completion.DefaultOptions())

			const n = 16
			conns := make([]net.Conn, n)
			for i := range conns {
				conns[i] = lb.dial(t)
			}
			for i, c := range conns {
				msg := []byte{'#', byte('a' + i)}
				_ = c.SetDeadline(time.Now().Add(waitFor))
				_, err := c.Write(msg)
				require.NoError(t, err)

				got := make([]byte, len(msg))
				_, err = io.ReadFull(c, got)
				require.NoError(t, err)
				assert.Equal(t, msg, got)
			}
		})
	}
}

func TestLoopbackPeerCloseResets(t *testing.T) {
	for _, name := range loopbackDrivers() {
		t.Run(name, func(t *testing.T) {
			lb := startLoopback(t, name, Config{}, completion.DefaultOptions())

			c := lb.dial(t)
			mustRoundTrip(t, c, []byte("x"), 1)
			require.NoError(t, c.(*net.TCPConn).CloseWrite())

			_ = c.SetReadDeadline(time.Now().Add(waitFor))
			_, err := c.Read(make([]byte, 1))
			require.Error(t, err)
			assert.NotErrorIs(t, err, io.EOF, "server must reset, not half-close")
			assert.False(t, errors.Is(err, os.ErrDeadlineExceeded), "server never closed the connection")
		})
	}
}

func TestLoopbackShutdown(t *testing.T) {
	forEachSetup(t, func(t *testing.T, driverName string, mode AcceptMode) {
		lb := startLoopback(t, driverName, Config{AcceptMode: mode}, completion.DefaultOptions())

		c := lb.dial(t)
		mustRoundTrip(t, c, []byte("before shutdown"), 1)

		require.NoError(t, lb.stop(t))
		lb.srv.Terminate()

		_ = c.SetReadDeadline(time.Now().Add(waitFor))
		_, err := c.Read(make([]byte, 1))
		assert.Error(t, err, "connection must be closed by the drain")
		assert.Zero(t, lb.srv.BuffersOutstanding())

		_, err = net.DialTimeout("tcp", lb.addr, time.Second)
		assert.Error(t, err, "listener must be closed")
	})
}

func TestLoopbackRestart(t *testing.T) {
	for _, name := range loopbackDrivers() {
		t.Run(name, func(t *testing.T) {
			lb := startLoopback(t, name, Config{}, completion.DefaultOptions())

			old := lb.dial(t)
			mustRoundTrip(t, old, []byte("cycle one"), 1)

			require.NoError(t, lb.srv.Restart())
			ctx, cancel := context.WithTimeout(context.Background(), waitFor)
			defer cancel()
			addr, err := lb.srv.WaitRunning(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, lb.addr, addr.String(), "restart must re-bind the same port")

			_ = old.SetReadDeadline(time.Now().Add(waitFor))
			_, err = old.Read(make([]byte, 1))
			assert.Error(t, err)

			mustRoundTrip(t, lb.dial(t), []byte("cycle two"), 2)
		})
	}
}
