package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "peakstranding"

// Identity lookup outcomes.
const (
	LookupCacheHit    = "cache_hit"
	LookupVerified    = "verified"
	LookupRejected    = "rejected"
	LookupUnavailable = "unavailable"
	LookupInvalid     = "invalid"
)

// Operation outcomes shared by submissions and likes.
const (
	OutcomeSuccess = "success"
	OutcomeInvalid = "invalid"
	OutcomeFailed  = "failed"
)

// Registry holds the collectors exported on /metrics. A nil *Registry is a valid no-op.
type Registry struct {
	gatherer         prometheus.Gatherer
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	identityLookups  *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	submissions      *prometheus.CounterVec
	evictions        *prometheus.CounterVec
	likeApplications *prometheus.CounterVec
	likesApplied     prometheus.Counter
	sampleSize       prometheus.Histogram
}

// New builds the collectors and registers them on a dedicated registry.
func New() (*Registry, error) {
	registry := prometheus.NewRegistry()
	return NewWithRegisterer(registry, registry)
}

// NewWithRegisterer registers the collectors on the supplied registerer.
func NewWithRegisterer(registerer prometheus.Registerer, gatherer prometheus.Gatherer) (*Registry, error) {
	if registerer == nil || gatherer == nil {
		return nil, errors.New("metrics: registerer and gatherer are required")
	}

	r := &Registry{
		gatherer: gatherer,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		identityLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "lookups_total",
			Help:      "Ticket resolutions by outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Requests rejected by the cooldown limiter, by operation class.",
		}, []string{"class"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "structures",
			Name:      "submissions_total",
			Help:      "Structure submissions by outcome.",
		}, []string{"outcome"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "structures",
			Name:      "evictions_total",
			Help:      "Retention evictions by outcome.",
		}, []string{"outcome"}),
		likeApplications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "likes",
			Name:      "applications_total",
			Help:      "Like applications by outcome.",
		}, []string{"outcome"}),
		likesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "likes",
			Name:      "applied_total",
			Help:      "Sum of clamped like counts applied to structures.",
		}),
		sampleSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "structures",
			Name:      "sample_size",
			Help:      "Number of structures returned per sample.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
	}

	collectors := []prometheus.Collector{
		r.httpRequests,
		r.httpDuration,
		r.identityLookups,
		r.rateLimited,
		r.submissions,
		r.evictions,
		r.likeApplications,
		r.likesApplied,
		r.sampleSize,
	}
	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Gatherer exposes the registry backing the exported collectors.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveHTTPRequest records one served request.
func (r *Registry) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveIdentityLookup records a ticket resolution outcome.
func (r *Registry) ObserveIdentityLookup(outcome string) {
	if r == nil {
		return
	}
	r.identityLookups.WithLabelValues(outcome).Inc()
}

// ObserveRateLimited records a cooldown rejection for an operation class.
func (r *Registry) ObserveRateLimited(class string) {
	if r == nil {
		return
	}
	r.rateLimited.WithLabelValues(class).Inc()
}

// ObserveSubmission records a submission outcome.
func (r *Registry) ObserveSubmission(outcome string) {
	if r == nil {
		return
	}
	r.submissions.WithLabelValues(outcome).Inc()
}

// ObserveEviction records a retention eviction outcome.
func (r *Registry) ObserveEviction(outcome string) {
	if r == nil {
		return
	}
	r.evictions.WithLabelValues(outcome).Inc()
}

// ObserveLike records a like application outcome and, on success, the applied count.
func (r *Registry) ObserveLike(outcome string, applied int) {
	if r == nil {
		return
	}
	r.likeApplications.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess && applied > 0 {
		r.likesApplied.Add(float64(applied))
	}
}

// ObserveSampleSize records how many structures a sample returned.
func (r *Registry) ObserveSampleSize(size int) {
	if r == nil {
		return
	}
	r.sampleSize.Observe(float64(size))
}
