package esplora

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/tdex-network/chainscan/pkg/explorer"
)

const (
	// txsPerPage is the fixed page size used by the explorer when listing
	// block transactions.
	txsPerPage = 25

	minRetryBackoff = 500 * time.Millisecond
	maxRetryBackoff = 8 * time.Second
)

// Opts defines the parameters needed for creating an esplora service with
// the NewService method.
type Opts struct {
	APIURL string
	// RequestTimeout is the timeout applied to every single HTTP request.
	RequestTimeout time.Duration
	// MaxRetryAttempts is the overall number of attempts for requests
	// failing with transient errors.
	MaxRetryAttempts int
	// IndexingLagRetryAttempts is the number of extra attempts reserved to
	// block lookups targeting a block not yet indexed by the explorer.
	IndexingLagRetryAttempts int
	// IndexingLagRetryInterval is the pause between such attempts.
	IndexingLagRetryInterval time.Duration
	// MaxConcurrentRequests caps the number of requests in flight.
	MaxConcurrentRequests int
	// RequestsPerSecond and RequestsBurst configure the request rate limiter.
	RequestsPerSecond int
	RequestsBurst     int
}

func (o Opts) validate() error {
	if len(o.APIURL) <= 0 {
		return fmt.Errorf("api url must not be null")
	}
	if o.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be a positive duration")
	}
	if o.MaxRetryAttempts <= 0 {
		return fmt.Errorf("max retry attempts must be a positive number")
	}
	if o.IndexingLagRetryAttempts < 0 {
		return fmt.Errorf("indexing lag retry attempts must not be a negative number")
	}
	if o.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("max concurrent requests must be a positive number")
	}
	if o.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be a positive number")
	}
	return nil
}

type esplora struct {
	apiURL         string
	httpClient     *http.Client
	requestTimeout time.Duration
	maxRetries     int
	lagRetries     int
	lagInterval    time.Duration
	sem            *semaphore.Weighted
	limiter        *rate.Limiter
	cb             *gobreaker.CircuitBreaker
}

// NewService returns a new esplora service as an explorer.Service interface.
func NewService(opts Opts) (explorer.Service, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid opts: %w", err)
	}

	lagInterval := opts.IndexingLagRetryInterval
	if lagInterval <= 0 {
		lagInterval = time.Second
	}
	burst := opts.RequestsBurst
	if burst <= 0 {
		burst = 1
	}

	return &esplora{
		apiURL:         opts.APIURL,
		httpClient:     &http.Client{},
		requestTimeout: opts.RequestTimeout,
		maxRetries:     opts.MaxRetryAttempts,
		lagRetries:     opts.IndexingLagRetryAttempts,
		lagInterval:    lagInterval,
		sem:            semaphore.NewWeighted(int64(opts.MaxConcurrentRequests)),
		limiter:        rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst),
		cb:             newCircuitBreaker(),
	}, nil
}

// HealthCheck pings the explorer by asking for the current chain tip.
func (e *esplora) HealthCheck(ctx context.Context) error {
	_, err := e.GetTipHeight(ctx)
	return err
}

func newCircuitBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "esplora",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return int(counts.Requests) > 10 && ratio >= 0.6
		},
	})
}
