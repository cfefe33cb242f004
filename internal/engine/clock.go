package engine

import "time"

// Clock supplies the wall-clock timestamps recorded in actions. Ordering
// never depends on it: actions are ordered by pipeline sequence number.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the system time in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
