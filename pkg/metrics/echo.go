package metrics

import "time"

// EchoMetrics provides observability for the echo server.
//
// Implementations collect metrics about the connection lifecycle, completion
// traffic and the drain sequence. Pass nil to the server to disable metrics
// collection; it substitutes NewNoopEchoMetrics.
type EchoMetrics interface {
	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	//
	// Parameters:
	//   - cause: why the connection ended ("peer_closed", "recv_error",
	//     "send_error", "post_failed")
	RecordConnectionClosed(cause string)

	// RecordConnectionForceClosed increments the counter of connections
	// abortively closed by a drain.
	RecordConnectionForceClosed()

	// RecordConnectionRejected increments the counter of accepted sockets
	// that were closed before registration.
	//
	// Parameters:
	//   - reason: "rate_limited", "max_connections", "no_buffer",
	//     "associate_failed"
	RecordConnectionRejected(reason string)

	// SetActiveConnections updates the live connection gauge.
	SetActiveConnections(count int)

	// RecordCompletion counts a dequeued completion.
	//
	// Parameters:
	//   - kind: operation kind ("accept", "read", "write")
	//   - ok: whether the completion reported success with a non-zero count
	RecordCompletion(kind string, ok bool)

	// RecordBytesEchoed adds bytes written back to clients.
	RecordBytesEchoed(bytes int)

	// RecordPartialSend counts a send completion that wrote less than the
	// outstanding remainder and was re-posted.
	RecordPartialSend()

	// RecordAcceptRearmed counts an accept that was posted again after its
	// previous completion.
	RecordAcceptRearmed()

	// SetPendingAccepts updates the gauge of accepts posted per cycle.
	SetPendingAccepts(count int)

	// RecordCycleStarted counts a serve cycle that reached the serving state.
	RecordCycleStarted()

	// RecordRestart counts a restart request that was honoured.
	RecordRestart()

	// RecordDrain records the duration of a drain and how many connections
	// it closed.
	RecordDrain(duration time.Duration, drained int)

	// RecordWorkersAbandoned counts workers that did not exit within the
	// drain's worker timeout.
	RecordWorkersAbandoned(count int)
}

// noopEchoMetrics discards everything.
type noopEchoMetrics struct{}

// NewNoopEchoMetrics returns an EchoMetrics implementation that does nothing.
func NewNoopEchoMetrics() EchoMetrics {
	return noopEchoMetrics{}
}

func (noopEchoMetrics) RecordConnectionAccepted()       {}
func (noopEchoMetrics) RecordConnectionClosed(string)   {}
func (noopEchoMetrics) RecordConnectionForceClosed()    {}
func (noopEchoMetrics) RecordConnectionRejected(string) {}
func (noopEchoMetrics) SetActiveConnections(int)        {}
func (noopEchoMetrics) RecordCompletion(string, bool)   {}
func (noopEchoMetrics) RecordBytesEchoed(int)           {}
func (noopEchoMetrics) RecordPartialSend()              {}
func (noopEchoMetrics) RecordAcceptRearmed()            {}
func (noopEchoMetrics) SetPendingAccepts(int)           {}
func (noopEchoMetrics) RecordCycleStarted()             {}
func (noopEchoMetrics) RecordRestart()                  {}
func (noopEchoMetrics) RecordDrain(time.Duration, int)  {}
func (noopEchoMetrics) RecordWorkersAbandoned(int)      {}
