package clock

import "time"

// StoredPrecision is the finest timestamp resolution the SQL stores keep.
const StoredPrecision = time.Microsecond

// SystemClock reads the wall clock in UTC, truncated to StoredPrecision so a
// time survives a round trip through any account repository unchanged.
type SystemClock struct{}

func NewSystemClock() SystemClock { return SystemClock{} }

func (SystemClock) Now() time.Time { return time.Now().UTC().Truncate(StoredPrecision) }
