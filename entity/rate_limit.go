package entity

import (
	"time"
)

// RateLimitRecord is the persisted counter document for the request
// rate limiter, one per client ip.
type RateLimitRecord struct {
	Identity       string
	Count          int
	Limit          int
	WindowStart    time.Time
	WindowLengthMs int64
}

func NewRateLimitRecord(identity string, limit int, window time.Duration, now time.Time) *RateLimitRecord {
	return &RateLimitRecord{
		Identity:       identity,
		Count:          0,
		Limit:          limit,
		WindowStart:    now,
		WindowLengthMs: window.Milliseconds(),
	}
}

func (r RateLimitRecord) Window() time.Duration {
	return time.Duration(r.WindowLengthMs) * time.Millisecond
}

func (r RateLimitRecord) Expired(now time.Time) bool {
	return now.Sub(r.WindowStart) >= r.Window()
}

func (r RateLimitRecord) ResetAt() time.Time {
	return r.WindowStart.Add(r.Window())
}
