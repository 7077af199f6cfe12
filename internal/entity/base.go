package entity

import (
	"time"
)

// NowUnixMilli returns current unix timestamp in milliseconds
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// ClampCount floors a counter at zero
func ClampCount(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
