package entity

import (
	"time"
)

const (
	ToolRender       = "render"
	ToolQuote        = "quote"
	ToolMarketPrices = "market_prices"
)

func KnownToolType(toolType string) bool {
	switch toolType {
	case ToolRender, ToolQuote, ToolMarketPrices:
		return true
	default:
		return false
	}
}

// CallMetadata is a closed shape; unknown fields from callers are dropped.
type CallMetadata struct {
	RoomType string `json:",omitempty"`
	Style    string `json:",omitempty"`
	Source   string `json:",omitempty"`
}

type ToolCall struct {
	Id       string
	At       time.Time
	Metadata CallMetadata
}

// QuotaRecord is the persisted counter document, one per (identity, toolType).
// Calls is an append-only audit log, not used for enforcement.
type QuotaRecord struct {
	Identity       string
	ToolType       string
	Count          int
	Limit          int
	WindowStart    time.Time
	WindowLengthMs int64
	Calls          []ToolCall
}

func NewQuotaRecord(identity string, toolType string, limit int, window time.Duration, now time.Time) *QuotaRecord {
	return &QuotaRecord{
		Identity:       identity,
		ToolType:       toolType,
		Count:          0,
		Limit:          limit,
		WindowStart:    now,
		WindowLengthMs: window.Milliseconds(),
	}
}

func (r QuotaRecord) Window() time.Duration {
	return time.Duration(r.WindowLengthMs) * time.Millisecond
}

func (r QuotaRecord) Expired(now time.Time) bool {
	return now.Sub(r.WindowStart) >= r.Window()
}

func (r QuotaRecord) ResetAt() time.Time {
	return r.WindowStart.Add(r.Window())
}
