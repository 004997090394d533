package ttl

import "time"

// Clock reports the current time. Tests substitute a manual clock.
type Clock func() time.Time

// unix converts t to whole seconds since the epoch.
func unix(t time.Time) (uint64, error) {
	secs := t.Unix()
	if secs < 0 {
		return 0, ErrClockBeforeEpoch
	}
	return uint64(secs), nil
}
