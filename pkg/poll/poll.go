package poll

import (
	"errors"
	"time"
)

// ErrTimedOut is returned by Until when the condition never held within the
// timeout. Callers wrap it into their own timeout error types.
var ErrTimedOut = errors.New("timed out")

// Until polls cond every interval until it returns true, fails, or the
// attempt budget derived from timeout is exhausted. It never blocks
// indefinitely. The first attempt runs immediately.
func Until(interval, timeout time.Duration, cond func() (bool, error)) error {
	attempts := int(timeout / interval)
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(interval)
		}
	}

	return ErrTimedOut
}
