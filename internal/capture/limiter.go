package capture

import "time"

// frameLimiter paces the capture loop to a target frame rate. DXGI frame
// acquisition returns as fast as the compositor presents; without pacing
// the loop would spin and flood the exchange with duplicates.
type frameLimiter struct {
	interval time.Duration
	last     time.Time
}

func newFrameLimiter(fps int) *frameLimiter {
	if fps <= 0 {
		fps = 30
	}
	return &frameLimiter{interval: time.Second / time.Duration(fps)}
}

// Wait sleeps off the remainder of the current frame slot.
func (l *frameLimiter) Wait() {
	now := time.Now()
	if !l.last.IsZero() {
		if rem := l.interval - now.Sub(l.last); rem > 0 {
			time.Sleep(rem)
			now = time.Now()
		}
	}
	l.last = now
}
