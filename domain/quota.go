package domain

import (
	"time"

	"syd-quota-service/entity"
)

const (
	TierGuest      = "guest"
	TierRegistered = "registered"
)

type CheckQuotaRequest struct {
	Identity string
	ToolType string
	// Limit and WindowMs override tier policy when > 0
	Limit    int
	WindowMs int64
}

type CheckResult struct {
	Allowed      bool
	Remaining    int
	ResetAt      time.Time
	CurrentCount int
	Tier         string
}

type IncrementQuotaRequest struct {
	Identity string
	ToolType string
	Metadata entity.CallMetadata
}

type QuotaStatsRequest struct {
	Identity string
}

type RateLimitRequest struct {
	Ip string
}
