package validator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/joncooperworks/ndnsec/certificate"
	"github.com/joncooperworks/ndnsec/ndn"
)

// Fetcher retrieves a certificate by name. Exactly one of onData and
// onFailure is called, from any goroutine, possibly after Fetch returns.
type Fetcher interface {
	Fetch(ctx context.Context, name ndn.Name, onData func(wire []byte), onFailure func(err error))
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, name ndn.Name, onData func(wire []byte), onFailure func(err error))

func (f FetcherFunc) Fetch(ctx context.Context, name ndn.Name, onData func([]byte), onFailure func(error)) {
	f(ctx, name, onData, onFailure)
}

// Getter is a blocking certificate source.
type Getter interface {
	Get(ctx context.Context, name ndn.Name) ([]byte, error)
}

// AsyncFetcher runs a blocking Getter on its own goroutine per request.
// Concurrent requests for the same name share one Get, and raw responses
// may be cached. Cached bytes are untrusted; every validation checks them
// again.
type AsyncFetcher struct {
	getter  Getter
	group   singleflight.Group
	cache   *cache.Cache
	metrics Metrics
	logger  *zap.Logger
}

// FetcherOption configures an AsyncFetcher.
type FetcherOption func(*AsyncFetcher)

// WithCache caches successful responses. A nil cache disables caching.
func WithCache(c *cache.Cache) FetcherOption {
	return func(f *AsyncFetcher) { f.cache = c }
}

// WithFetcherMetrics sets the metrics the fetcher reports to.
func WithFetcherMetrics(m Metrics) FetcherOption {
	return func(f *AsyncFetcher) { f.metrics = m }
}

// WithFetcherLogger sets the logger. Default no-op.
func WithFetcherLogger(l *zap.Logger) FetcherOption {
	return func(f *AsyncFetcher) { f.logger = l }
}

// NewAsyncFetcher wraps g.
func NewAsyncFetcher(g Getter, opts ...FetcherOption) *AsyncFetcher {
	f := &AsyncFetcher{
		getter:  g,
		metrics: NewMetrics(nil),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *AsyncFetcher) Fetch(ctx context.Context, name ndn.Name, onData func([]byte), onFailure func(error)) {
	go func() {
		wire, err := f.get(ctx, name)
		if err != nil {
			onFailure(err)
			return
		}
		onData(wire)
	}()
}

func (f *AsyncFetcher) get(ctx context.Context, name ndn.Name) ([]byte, error) {
	key := name.String()
	if f.cache != nil {
		if v, ok := f.cache.Get(key); ok {
			f.metrics.CacheHits(CacheHit).Inc()
			return v.([]byte), nil
		}
		f.metrics.CacheHits(CacheMiss).Inc()
	}

	// The shared Get must outlive any single caller, so it runs detached and
	// each caller waits on its own context.
	ch := f.group.DoChan(key, func() (interface{}, error) {
		wire, err := f.getter.Get(context.WithoutCancel(ctx), name)
		if err != nil {
			return nil, err
		}
		if f.cache != nil {
			f.cache.SetDefault(key, wire)
		}
		return wire, nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.Err = ctx.Err()
	}
	if res.Err != nil {
		f.metrics.Fetches(ErrLabelFetch).Inc()
		return nil, res.Err
	}
	f.metrics.Fetches(Success).Inc()
	f.logger.Debug("fetched certificate", zap.Stringer("name", name), zap.Bool("shared", res.Shared))
	return res.Val.([]byte), nil
}

// ErrCertificateNotFound is returned by DirGetter when no stored
// certificate answers a request.
var ErrCertificateNotFound = errors.New("certificate not found")

// DirGetter serves base64 certificate files (*.cert) from a directory. A
// request is answered by the first certificate whose name the requested
// name is a prefix of.
type DirGetter struct {
	Dir string
}

func (d DirGetter) Get(ctx context.Context, name ndn.Name) ([]byte, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate directory: %w", err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".cert") {
			continue
		}
		c, err := certificate.Load(filepath.Join(d.Dir, e.Name()))
		if err != nil {
			continue
		}
		if name.IsPrefixOf(c.Name()) {
			return c.Wire(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCertificateNotFound, name)
}
