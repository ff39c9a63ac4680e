package storage

import "time"

// wallNowMS is used only for expiry checks inside backend-local filtering;
// the engine's injected clock drives all other timestamping.
func wallNowMS() int64 { return time.Now().UnixMilli() }
