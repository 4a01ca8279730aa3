package server

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
)

// Rejection reasons reported to metrics and logs.
const (
	rejectRateLimited    = "rate_limited"
	rejectMaxConnections = "max_connections"
	rejectNoBuffer       = "no_buffer"
	rejectAssociate      = "associate_failed"
	rejectPromote        = "promote_failed"
)

// admission decides whether an accepted socket becomes a connection.
type admission struct {
	limiter *catrate.Limiter
	max     int
}

func newAdmission(rates map[time.Duration]int, maxConns int) (*admission, error) {
	a := &admission{max: maxConns}
	if len(rates) == 0 {
		return a, nil
	}
	l, err := newLimiter(rates)
	if err != nil {
		return nil, err
	}
	a.limiter = l
	return a, nil
}

// admit returns an empty string when the client may connect, otherwise the
// rejection reason. live is the current number of registered connections.
func (a *admission) admit(ip string, live int) string {
	if a.max > 0 && live >= a.max {
		return rejectMaxConnections
	}
	if a.limiter != nil {
		if _, ok := a.limiter.Allow(ip); !ok {
			return rejectRateLimited
		}
	}
	return ""
}

// ValidateAcceptRate checks a per-IP accept rate table. Every count and
// window must be positive, longer windows must allow strictly more events
// and a strictly lower rate.
func ValidateAcceptRate(rates map[time.Duration]int) error {
	if len(rates) == 0 {
		return nil
	}
	_, err := newLimiter(rates)
	return err
}

func newLimiter(rates map[time.Duration]int) (l *catrate.Limiter, err error) {
	defer func() {
		if r := recover(); r != nil {
			l, err = nil, fmt.Errorf("invalid accept rate %v", rates)
		}
	}()
	return catrate.NewLimiter(rates), nil
}
