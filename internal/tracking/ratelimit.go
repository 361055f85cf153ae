package tracking

import (
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/ignite/mail-tracker/internal/pkg/httputil"
)

// NewRateLimiter builds a per-client-IP limiter middleware from a formatted
// rate such as "300-M". Counters live in Redis when client is non-nil and
// in process memory otherwise.
func NewRateLimiter(formatted string, client *redis.Client) (func(http.Handler) http.Handler, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", formatted, err)
	}

	var store limiter.Store
	if client != nil {
		store, err = sredis.NewStoreWithOptions(client, limiter.StoreOptions{
			Prefix:   "mail-tracker:ratelimit",
			MaxRetry: 3,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis rate limit store: %w", err)
		}
	} else {
		store = memory.NewStore()
	}

	instance := limiter.New(store, rate, limiter.WithTrustForwardHeader(true))
	mw := mhttp.NewMiddleware(instance,
		mhttp.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			httputil.Text(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
	return mw.Handler, nil
}
