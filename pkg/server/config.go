package server

import (
	"fmt"
	"net"
	"runtime"
	"strconv"
	"time"

	"github.com/marmos91/echoport/pkg/bufpool"
)

// AcceptMode selects how connections enter the server.
type AcceptMode string

const (
	// AcceptExtended keeps asynchronous accepts posted on the listener and
	// handles their completions on the workers.
	AcceptExtended AcceptMode = "extended"

	// AcceptSimple accepts synchronously on a dedicated loop and hands each
	// connection to the completion machinery afterwards.
	AcceptSimple AcceptMode = "simple"
)

// Config holds the settings of the echo server.
type Config struct {
	// BindAddress is the interface to listen on. Empty means all interfaces.
	BindAddress string

	// Port is the TCP port, as a decimal string. "0" picks an ephemeral port
	// on the first cycle; restarts re-bind whatever port was picked.
	Port string

	// BufferSize is the size of every operation buffer.
	BufferSize int

	// Workers is the size of the worker pool. Zero means 2 x NumCPU.
	Workers int

	AcceptMode AcceptMode

	// PendingAccepts is how many accepts stay posted in extended mode.
	PendingAccepts int

	// Verbose logs every dequeued completion.
	Verbose bool

	// WorkerExitTimeout bounds the wait for workers during a drain.
	WorkerExitTimeout time.Duration

	// DrainTimeout bounds the wait for a closed connection's outstanding
	// operation before its buffer is returned.
	DrainTimeout time.Duration

	// RestartDelay is slept between a drain and the next cycle's listen.
	RestartDelay time.Duration

	// MaxConnections caps live connections. Zero means unlimited.
	MaxConnections int

	// AcceptRate limits accepted connections per client IP, as window to
	// count. Empty means unlimited.
	AcceptRate map[time.Duration]int
}

// DefaultPort is the port used when none is configured.
const DefaultPort = "5001"

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	c := Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Port == "" {
		c.Port = DefaultPort
	}
	if c.BufferSize <= 0 {
		c.BufferSize = bufpool.DefaultSize
	}
	if c.Workers <= 0 {
		c.Workers = 2 * runtime.NumCPU()
	}
	if c.AcceptMode == "" {
		c.AcceptMode = AcceptExtended
	}
	if c.PendingAccepts <= 0 {
		c.PendingAccepts = 1
	}
	if c.WorkerExitTimeout <= 0 {
		c.WorkerExitTimeout = time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
}

func (c *Config) validate() error {
	if _, err := ParsePort(c.Port); err != nil {
		return err
	}
	switch c.AcceptMode {
	case AcceptExtended, AcceptSimple:
	default:
		return fmt.Errorf("invalid accept mode %q", c.AcceptMode)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections must not be negative")
	}
	return ValidateAcceptRate(c.AcceptRate)
}

// ParsePort parses a decimal TCP port. Zero is allowed and means ephemeral.
func ParsePort(s string) (int, error) {
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return int(p), nil
}

// address joins the bind address with port.
func (c *Config) address(port string) string {
	return net.JoinHostPort(c.BindAddress, port)
}
