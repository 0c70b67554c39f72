package validator

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels.
const (
	Success = "ok"

	ErrLabelMalformed = "err_malformed"
	ErrLabelNoPolicy  = "err_no_policy"
	ErrLabelNotAuth   = "err_unauthorized"
	ErrLabelDepth     = "err_depth"
	ErrLabelVerify    = "err_verify"
	ErrLabelFetch     = "err_fetch"
	ErrLabelParse     = "err_parse"
	ErrLabelExpired   = "err_expired"
	ErrLabelCanceled  = "err_canceled"
	ErrLabelInternal  = "err_internal"

	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Metrics exposes validation metrics as functions that return counters.
type Metrics struct {
	Validations func(kind, result string) prometheus.Counter
	Fetches     func(result string) prometheus.Counter
	CacheHits   func(result string) prometheus.Counter
}

// NewMetrics creates the validation metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) Metrics {
	auto := promauto.With(reg)

	validations := auto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndnsec_validations_total",
			Help: "Number of packet validations by packet kind and result",
		},
		[]string{"kind", "result"},
	)
	fetches := auto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndnsec_certificate_fetches_total",
			Help: "Number of certificate fetches issued during chain validation",
		},
		[]string{"result"},
	)
	cacheHits := auto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndnsec_fetch_cache_lookups_total",
			Help: "Number of certificate fetch cache lookups",
		},
		[]string{"result"},
	)

	return Metrics{
		Validations: func(kind, result string) prometheus.Counter {
			return validations.WithLabelValues(kind, result)
		},
		Fetches: func(result string) prometheus.Counter {
			return fetches.WithLabelValues(result)
		},
		CacheHits: func(result string) prometheus.Counter {
			return cacheHits.WithLabelValues(result)
		},
	}
}

// ErrorLabel maps a validation error to its result label.
func ErrorLabel(err error) string {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrLabelCanceled
	case errors.Is(err, ErrMalformedSignature):
		return ErrLabelMalformed
	case errors.Is(err, ErrNoPolicy):
		return ErrLabelNoPolicy
	case errors.Is(err, ErrUnauthorized):
		return ErrLabelNotAuth
	case errors.Is(err, ErrChainDepthExceeded):
		return ErrLabelDepth
	case errors.Is(err, ErrSignatureMismatch):
		return ErrLabelVerify
	case errors.Is(err, ErrFetch):
		return ErrLabelFetch
	case errors.Is(err, ErrDecode):
		return ErrLabelParse
	case errors.Is(err, ErrCertificateExpired):
		return ErrLabelExpired
	default:
		return ErrLabelInternal
	}
}
