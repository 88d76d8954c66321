package clock

import "time"

// Clock supplies the current instant. Store expiry and oracle timestamps read
// time through it so tests can pin "now".
type Clock interface {
	Now() time.Time
}

type system struct{}

// System returns a Clock backed by time.Now in UTC.
func System() Clock { return system{} }

func (system) Now() time.Time { return time.Now().UTC() }

type fixed struct{ t time.Time }

// NewFixed returns a Clock frozen at t.
func NewFixed(t time.Time) Clock { return fixed{t: t.UTC()} }

func (f fixed) Now() time.Time { return f.t }

// OrSystem returns c, or the system clock when c is nil.
func OrSystem(c Clock) Clock {
	if c == nil {
		return System()
	}
	return c
}
