package clock

import "time"

// Clock stamps accounts and session tokens. Tests swap in a manual clock.
type Clock interface {
	Now() time.Time
}
