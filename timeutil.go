package aresgo

import "time"

// timedOut reports whether now is at or past deadline, per spec.md §4.1.
// time.Time comparisons in Go already carry monotonic readings from
// time.Now(), so this is a direct wrapper rather than the (sec, usec)
// struct compare the original C implementation needs.
func timedOut(now, deadline time.Time) bool {
	return !now.Before(deadline)
}

// addMillis returns t advanced by millis milliseconds.
func addMillis(t time.Time, millis int64) time.Time {
	return t.Add(time.Duration(millis) * time.Millisecond)
}
