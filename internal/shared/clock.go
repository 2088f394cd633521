package shared

import "time"

// Clock abstracts time reads so grant expiry and validity windows resolve
// deterministically under test.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
