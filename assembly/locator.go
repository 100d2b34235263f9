package assembly

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/txix-open/isp-kit/grpc/client"
	"github.com/txix-open/isp-kit/lb"
	"github.com/txix-open/isp-kit/log"
	"syd-quota-service/conf"
	"syd-quota-service/handler"
	"syd-quota-service/metrics"
	"syd-quota-service/middleware"
	"syd-quota-service/proxy"
	"syd-quota-service/repository"
	"syd-quota-service/service"
)

type Locator struct {
	logger   log.Logger
	authCli  *client.Client
	metrics *metrics.Storage
}

func NewLocator(logger log.Logger, authCli *client.Client, metrics *metrics.Storage) Locator {
	return Locator{
		logger:   logger,
		authCli:  authCli,
		metrics: metrics,
	}
}

type Config struct {
	Handler http.Handler
	Cleaner service.Cleaner
}

func (l Locator) Config(config conf.Remote, locations []conf.Location, redisCli redis.UniversalClient) (*Config, error) {
	quotaRepo := repository.NewQuota(redisCli, l.metrics)
	rateLimitRepo := repository.NewRateLimit(redisCli, l.metrics)

	tierCache := repository.NewTierCache(time.Duration(config.Caching.TierDataInSec) * time.Second)
	tierRepo := repository.NewTier(l.authCli)
	tierService := service.NewTier(tierCache, tierRepo, l.logger)

	quotaService := service.NewQuota(
		quotaRepo,
		tierService,
		config.Tiers,
		config.ToolQuotas,
		config.Cleanup,
		l.metrics,
		l.logger,
	)
	rateLimitService := service.NewRateLimit(rateLimitRepo, config.RateLimit, config.Cleanup, l.metrics, l.logger)

	quotaHandler := handler.NewQuota(quotaService, l.logger)
	rateLimitHandler := handler.NewRateLimit(rateLimitService)

	maxRequestBodySize := config.Http.MaxRequestBodySizeInMb * 1024 * 1024 //nolint:gomnd

	router := mux.NewRouter()

	apiEndpoints := map[string]middleware.HandlerFunc{
		"/api/quota/check":      quotaHandler.Check,
		"/api/quota/increment":  quotaHandler.Increment,
		"/api/quota/stats":      quotaHandler.Stats,
		"/api/rate_limit/check": rateLimitHandler.Check,
		"/api/rate_limit/stats": rateLimitHandler.Stats,
	}
	for path, handlerFunc := range apiEndpoints {
		apiHandler := middleware.Chain(
			handlerFunc,
			middleware.RequestId(config.EnableClientRequestIdForwarding),
			middleware.Logger(l.logger, config.Logging.RequestLogEnable, config.Logging.BodyLogEnable),
			middleware.ErrorHandler(l.logger),
		)
		router.Handle(path, middleware.Entrypoint(maxRequestBodySize, apiHandler, "", l.logger)).
			Methods(http.MethodPost)
	}

	for _, location := range locations {
		hostManager := lb.NewRoundRobin(location.Upstream)
		enableBodyLog := config.Logging.BodyLogEnable

		var proxyFunc middleware.Handler
		switch location.Protocol {
		case conf.HttpProtocol:
			proxyFunc = proxy.NewHttp(hostManager, time.Duration(config.Http.ProxyTimeoutInSec)*time.Second)
		case conf.WsProtocol:
			proxyFunc = proxy.NewWs(hostManager)
			enableBodyLog = false
		default:
			return nil, errors.Errorf("not supported protocol %s", location.Protocol)
		}

		chatHandler := middleware.Chain(
			proxyFunc,
			middleware.RequestId(config.EnableClientRequestIdForwarding),
			middleware.ClientIp(),
			middleware.Logger(l.logger, config.Logging.RequestLogEnable, enableBodyLog),
			middleware.ErrorHandler(l.logger),
			middleware.RateLimit(rateLimitService),
		)
		entrypoint := middleware.Entrypoint(maxRequestBodySize, chatHandler, location.PathPrefix, l.logger)
		router.PathPrefix(location.PathPrefix + "/").Handler(entrypoint)
	}

	cleaner := service.NewCleaner(
		quotaService,
		rateLimitService,
		config.Cleanup.GetInterval(),
		l.logger,
	)

	return &Config{
		Handler: router,
		Cleaner: cleaner,
	}, nil
}
