// Package datadog implements a Datadog backend for the internal/metrics
// package.
//
// Observations accumulate in memory and go out in one submission per Flush,
// once a minute by default, plus a final flush on Close. A long migration
// shows up as a real time series; a short command still gets its tail flush.
//
// Concurrency model:
//   - pipeline and server goroutines call IncCounter/ObserveHistogram freely
//   - Flush detaches the buffers under a mutex and submits out-of-lock
//   - a background goroutine calls Flush on a ticker; Close stops it
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"tracketl/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric.
	// If empty, defaults to "tracketl".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "service:tracketl"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams. Production code never sets them; unit tests use
	// them to avoid real network submission and nondeterministic clocks.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the one SDK call the backend makes. Tests substitute
// a fake; production uses *datadogV2.MetricsApi.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// buffers holds one flush interval's worth of observations. The backend
// owns a live instance under its mutex; drain swaps it for a fresh one and
// hands the old instance to Flush.
type buffers struct {
	// steps and stepDur are keyed by step\x00status.
	steps   map[string]float64
	stepDur map[string][]float64

	// rows is keyed by the row-count kind (attempted/succeeded/failed).
	rows    map[string]float64
	batches float64

	// httpReqs and httpDur are keyed by response status code.
	httpReqs map[string]float64
	httpDur  map[string][]float64
}

func newBuffers() buffers {
	return buffers{
		steps:    make(map[string]float64),
		stepDur:  make(map[string][]float64),
		rows:     make(map[string]float64),
		httpReqs: make(map[string]float64),
		httpDur:  make(map[string][]float64),
	}
}

func (bf buffers) empty() bool {
	return len(bf.steps) == 0 &&
		len(bf.stepDur) == 0 &&
		len(bf.rows) == 0 &&
		bf.batches == 0 &&
		len(bf.httpReqs) == 0 &&
		len(bf.httpDur) == 0
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	sub    metricsSubmitter
	apiCtx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu  sync.Mutex
	buf buffers
}

func resolveEnvTag() string {
	for _, key := range []string{"ENV", "DD_ENV"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return "env:" + v
		}
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend over the official client and
// starts the flush goroutine.
//
// Credentials come from DD_API_KEY/DD_APP_KEY through the SDK's default
// context. Construction never touches the network; a bad key surfaces as a
// Flush error.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "tracketl"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	tags := append([]string{resolveEnvTag(), "job:" + job}, opts.Tags...)

	b := &Backend{
		sub:        opts.submitter,
		apiCtx:     dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   tags,
		now:        opts.now,
		newTicker:  opts.newTicker,
		buf:        newBuffers(),
	}
	if b.sub == nil {
		b.sub = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.newTicker == nil {
		b.newTicker = time.NewTicker
	}

	go b.flushLoop()
	return b, nil
}

func (b *Backend) flushLoop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush.
// Close must be called at most once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case "tracketl_step_total":
		b.buf.steps[stepStatusKey(labels["step"], labels["status"])] += delta

	case "tracketl_rows_total":
		if kind := labels["kind"]; kind != "" {
			b.buf.rows[kind] += delta
		}

	case "tracketl_batches_total":
		b.buf.batches += delta

	case "tracketl_http_requests_total":
		b.buf.httpReqs[statusOrUnknown(labels)] += delta

	default:
		// Unknown metrics are dropped.
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case "tracketl_step_duration_seconds":
		k := stepStatusKey(labels["step"], labels["status"])
		b.buf.stepDur[k] = append(b.buf.stepDur[k], value)

	case "tracketl_http_request_duration_seconds":
		s := statusOrUnknown(labels)
		b.buf.httpDur[s] = append(b.buf.httpDur[s], value)

	default:
		// Unknown histograms are dropped.
	}
}

func statusOrUnknown(labels metrics.Labels) string {
	if s := labels["status"]; s != "" {
		return s
	}
	return "unknown"
}

func (b *Backend) drain() buffers {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.buf
	b.buf = newBuffers()
	return out
}

// Flush submits buffered metrics. Buffers reset even when submission fails
// so the pipeline never blocks on metrics; there is no redelivery.
func (b *Backend) Flush() error {
	bf := b.drain()
	if bf.empty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(bf, b.now().Unix())}
	_, _, err := b.sub.SubmitMetrics(b.apiCtx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries turns drained buffers into Datadog series at one timestamp.
// Pure: no locks, no network, no clocks. Metric names and tags are an
// operational contract; dashboards depend on them.
func (b *Backend) buildSeries(bf buffers, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(bf.steps)+len(bf.rows)+16)

	count := func(metric string, value float64, tags []string) {
		if value == 0 {
			return
		}
		series = append(series, datadogV2.MetricSeries{
			Metric: metric,
			Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
			Points: []datadogV2.MetricPoint{
				{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
			},
			Tags: tags,
		})
	}

	for k, v := range bf.steps {
		step, status := splitStepStatusKey(k)
		count("tracketl.step.total", v, withTags(b.baseTags, "step:"+step, "status:"+status))
	}
	for kind, v := range bf.rows {
		count("tracketl.rows.total", v, withTags(b.baseTags, "kind:"+kind))
	}
	count("tracketl.batches.total", bf.batches, b.baseTags)

	for k, samples := range bf.stepDur {
		step, status := splitStepStatusKey(k)
		tags := withTags(b.baseTags, "step:"+step, "status:"+status)
		addPercentiles(&series, "tracketl.step.duration_seconds", tags, samples, nowUnix)
	}

	for status, v := range bf.httpReqs {
		count("tracketl.http.requests.total", v, withTags(b.baseTags, "status:"+status))
	}
	for status, samples := range bf.httpDur {
		tags := withTags(b.baseTags, "status:"+status)
		addPercentiles(&series, "tracketl.http.request_duration_seconds", tags, samples, nowUnix)
	}

	return series
}

// addPercentiles appends the fixed percentile gauges for a sample set. It
// sorts a copy and does nothing for an empty set.
func addPercentiles(series *[]datadogV2.MetricSeries, metricPrefix string, tags []string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	gauge := func(suffix string, value float64) {
		*series = append(*series, datadogV2.MetricSeries{
			Metric: metricPrefix + suffix,
			Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
			Points: []datadogV2.MetricPoint{
				{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
			},
			Tags: tags,
		})
	}

	gauge(".p50", percentileNearestRank(cp, 0.50))
	gauge(".p90", percentileNearestRank(cp, 0.90))
	gauge(".p95", percentileNearestRank(cp, 0.95))
	gauge(".p99", percentileNearestRank(cp, 0.99))
	gauge(".max", cp[len(cp)-1])
	gauge(".samples", float64(len(cp)))
}

func stepStatusKey(step, status string) string {
	return step + "\x00" + status
}

func splitStepStatusKey(k string) (step, status string) {
	if i := strings.IndexByte(k, 0); i >= 0 {
		return k[:i], k[i+1:]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

// percentileNearestRank picks from a sorted slice by rounded rank. p is
// clamped to the slice.
func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	switch {
	case n == 0:
		return 0
	case p <= 0:
		return s[0]
	case p >= 1:
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:tracketl".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
