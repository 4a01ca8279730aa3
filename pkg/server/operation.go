package server

import (
	"github.com/marmos91/echoport/pkg/completion"
)

// Operation is one I/O context: the buffer and the state of the single
// operation that may be outstanding on it. A connection owns one operation;
// a listener owns one per pending accept.
type Operation struct {
	completion.Overlapped

	buf   []byte
	state ioState

	// next links the operations owned by the same socket.
	next *Operation
}

type (
	port     = completion.Port[*Operation]
	socket   = completion.Socket[*Operation]
	listener = completion.Listener[*Operation]
	driver   = completion.Driver[*Operation]
	event    = completion.Completion[*Operation]
)

// ioState is what the outstanding operation is doing. The variants are
// accepting, reading and writing.
type ioState interface {
	kind() string
}

type accepting struct{}

type reading struct{}

// writing tracks an echo in progress: total bytes to send and how many
// have been acknowledged so far.
type writing struct {
	total int
	sent  int
}

func (accepting) kind() string { return "accept" }
func (reading) kind() string   { return "read" }
func (writing) kind() string   { return "write" }

func kindOf(op *Operation) string {
	if op == nil || op.state == nil {
		return "none"
	}
	return op.state.kind()
}
