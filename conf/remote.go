package conf

import (
	"reflect"
	"time"

	"github.com/pkg/errors"
	"github.com/txix-open/isp-kit/log"
	"github.com/txix-open/isp-kit/rc/schema"
	"github.com/txix-open/jsonschema"
	"syd-quota-service/entity"
)

const (
	defaultRateLimitWindow = 1 * time.Minute
	defaultRateLimitMax    = 20

	defaultQuotaWindow = 24 * time.Hour

	defaultCleanupInterval    = 10 * time.Minute
	defaultQuotaRetention     = 48 * time.Hour
	defaultRateLimitRetention = 2 * time.Hour
	defaultCleanupBatchSize   = 100
)

func init() {
	schema.CustomGenerators.Register("logLevel", func(field reflect.StructField, t *jsonschema.Schema) {
		t.Type = "string"
		t.Enum = []interface{}{"debug", "info", "error", "fatal"}
	})
}

type Remote struct {
	Redis      *Redis       `schema:"Redis settings,required because counters are enforced through the transactional store"`
	Http       Http         `schema:"HTTP settings"`
	Logging    Logging      `schema:"Logging settings"`
	Caching    Caching      `schema:"Caching settings"`
	RateLimit  RateLimit    `schema:"Request rate limiting,fixed window counter keyed by client ip"`
	ToolQuotas []ToolQuota  `schema:"Per-tool quota defaults,used when the caller passes no override and tier policy has no entry"`
	Tiers      Tiers        `schema:"Tier policy,guest and registered allowances"`
	Cleanup    Cleanup      `schema:"Expired counters cleanup"`

	EnableClientRequestIdForwarding bool `schema:"Enable client request id forwarding,trust the x-request-id header from clients"`
}

type Http struct {
	MaxRequestBodySizeInMb int64 `valid:"required" schema:"Max request body size,in megabytes"`
	ProxyTimeoutInSec      int   `valid:"required" schema:"Proxy timeout,in seconds"`
}

type Logging struct {
	LogLevel         log.Level `schemaGen:"logLevel" schema:"Log level,request logging is written at debug level"`
	RequestLogEnable bool      `schema:"Enable request logging"`
	BodyLogEnable    bool      `schema:"Enable request and response body logging,request logging must be enabled"`
}

type Caching struct {
	TierDataInSec int `valid:"required" schema:"Tier lookup cache lifetime,in seconds; counters are never cached"`
}

type RateLimit struct {
	WindowMs    int64 `schema:"Window length,in milliseconds, default 60000"`
	MaxRequests int   `valid:"range(0|1000)" schema:"Requests per window,default 20"`
}

func (c RateLimit) GetWindow() time.Duration {
	if c.WindowMs <= 0 {
		return defaultRateLimitWindow
	}
	return time.Duration(c.WindowMs) * time.Millisecond
}

func (c RateLimit) GetMaxRequests() int {
	if c.MaxRequests <= 0 {
		return defaultRateLimitMax
	}
	return c.MaxRequests
}

type ToolQuota struct {
	ToolType string `valid:"required,in(render|quote|market_prices)" schema:"Tool type"`
	Limit    int    `valid:"required" schema:"Operations per window"`
	WindowMs int64  `schema:"Window length,in milliseconds, default 86400000"`
}

func (c ToolQuota) GetWindow() time.Duration {
	if c.WindowMs <= 0 {
		return defaultQuotaWindow
	}
	return time.Duration(c.WindowMs) * time.Millisecond
}

type Tiers struct {
	Guest      TierPolicy `schema:"Guest allowance"`
	Registered TierPolicy `schema:"Registered user allowance"`
}

type TierPolicy struct {
	WindowMs int64       `schema:"Quota window for this tier,in milliseconds"`
	Limits   []ToolLimit `schema:"Per-tool ceilings for this tier"`
}

type ToolLimit struct {
	ToolType string `valid:"required,in(render|quote|market_prices)" schema:"Tool type"`
	Limit    int    `valid:"required" schema:"Operations per window"`
}

func (c TierPolicy) LimitFor(toolType string) (int, bool) {
	for _, limit := range c.Limits {
		if limit.ToolType == toolType {
			return limit.Limit, true
		}
	}
	return 0, false
}

type Cleanup struct {
	IntervalInSec           int `schema:"Sweep interval,in seconds, default 600"`
	QuotaRetentionInSec     int `schema:"Quota records retention,in seconds, default 172800"`
	RateLimitRetentionInSec int `schema:"Rate limit records retention,in seconds, default 7200"`
	BatchSize               int `valid:"range(0|10000)" schema:"Max records deleted per sweep,default 100"`
}

func (c Cleanup) GetInterval() time.Duration {
	if c.IntervalInSec <= 0 {
		return defaultCleanupInterval
	}
	return time.Duration(c.IntervalInSec) * time.Second
}

func (c Cleanup) GetQuotaRetention() time.Duration {
	if c.QuotaRetentionInSec <= 0 {
		return defaultQuotaRetention
	}
	return time.Duration(c.QuotaRetentionInSec) * time.Second
}

func (c Cleanup) GetRateLimitRetention() time.Duration {
	if c.RateLimitRetentionInSec <= 0 {
		return defaultRateLimitRetention
	}
	return time.Duration(c.RateLimitRetentionInSec) * time.Second
}

func (c Cleanup) GetBatchSize() int {
	if c.BatchSize <= 0 {
		return defaultCleanupBatchSize
	}
	return c.BatchSize
}

type Redis struct {
	Address  string         `schema:"Address,required if sentinel is not specified"`
	Username string         `schema:"Username"`
	Password string         `schema:"Password"`
	Sentinel *RedisSentinel `schema:"Sentinel settings,required if address is not specified"`
}

type RedisSentinel struct {
	Addresses  []string `valid:"required" schema:"Cluster node addresses"`
	MasterName string   `valid:"required" schema:"Master name"`
	Username   string   `schema:"Sentinel username"`
	Password   string   `schema:"Sentinel password"`
}

func (r Remote) Validate() error {
	if r.Redis == nil {
		return errors.New("redis is required")
	}
	if r.Redis.Sentinel == nil && r.Redis.Address == "" {
		return errors.New("invalid redis config. sentinel or address are required")
	}
	for _, quota := range r.ToolQuotas {
		if !entity.KnownToolType(quota.ToolType) {
			return errors.Errorf("unknown tool type in quota defaults: '%s'", quota.ToolType)
		}
	}
	return nil
}
