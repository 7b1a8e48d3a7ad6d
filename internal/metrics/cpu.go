package metrics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/Iron-Ham/qscaler/internal/errors"
)

// CPUSampler returns current host CPU usage in percent, across all cores.
type CPUSampler interface {
	SampleCPU(ctx context.Context) (float64, error)
}

// DefaultCPUWindow is how long HostSampler measures. CPU usage is a rate, so
// it needs an interval to be computed over.
const DefaultCPUWindow = 200 * time.Millisecond

// DefaultPrometheusQuery yields host CPU busy percent from node_exporter data.
const DefaultPrometheusQuery = `100 * (1 - avg(rate(node_cpu_seconds_total{mode="idle"}[1m])))`

// clampPercent maps v into [0, 100].
func clampPercent(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// percentFunc matches cpu.PercentWithContext.
type percentFunc func(ctx context.Context, interval time.Duration, percpu bool) ([]float64, error)

// HostSampler measures the local host with gopsutil.
type HostSampler struct {
	window  time.Duration
	percent percentFunc
}

// NewHostSampler creates a HostSampler measuring over window. A
// non-positive window uses DefaultCPUWindow.
func NewHostSampler(window time.Duration) *HostSampler {
	if window <= 0 {
		window = DefaultCPUWindow
	}
	return &HostSampler{window: window, percent: cpu.PercentWithContext}
}

// SampleCPU blocks for the sampling window and returns aggregate usage.
func (h *HostSampler) SampleCPU(ctx context.Context) (float64, error) {
	values, err := h.percent(ctx, h.window, false)
	if err != nil {
		return 0, errors.NewMetricError("host", fmt.Errorf("%w: %w", errors.ErrCPUUnavailable, err))
	}
	if len(values) == 0 || math.IsNaN(values[0]) {
		return 0, errors.NewMetricError("host", errors.ErrCPUUnavailable)
	}
	return clampPercent(values[0]), nil
}

// PrometheusOption configures a PrometheusSampler.
type PrometheusOption func(*PrometheusSampler)

// WithQuery replaces DefaultPrometheusQuery.
func WithQuery(q string) PrometheusOption {
	return func(p *PrometheusSampler) {
		if q != "" {
			p.query = q
		}
	}
}

// WithQueryTimeout bounds each query. Zero means no timeout beyond ctx.
func WithQueryTimeout(d time.Duration) PrometheusOption {
	return func(p *PrometheusSampler) { p.timeout = d }
}

// PrometheusSampler reads CPU usage from a PromQL instant query whose result
// is a percentage.
type PrometheusSampler struct {
	api     v1.API
	query   string
	timeout time.Duration
	now     func() time.Time
}

// NewPrometheusSampler creates a sampler querying the server at address.
func NewPrometheusSampler(address string, opts ...PrometheusOption) (*PrometheusSampler, error) {
	client, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("error creating Prometheus client: %w", err)
	}
	return newPrometheusSampler(v1.NewAPI(client), opts...), nil
}

func newPrometheusSampler(a v1.API, opts ...PrometheusOption) *PrometheusSampler {
	p := &PrometheusSampler{
		api:   a,
		query: DefaultPrometheusQuery,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Query returns the PromQL expression in use.
func (p *PrometheusSampler) Query() string {
	return p.query
}

// SampleCPU runs the query and returns its single value.
func (p *PrometheusSampler) SampleCPU(ctx context.Context) (float64, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	result, _, err := p.api.Query(ctx, p.query, p.now())
	if err != nil {
		return 0, errors.NewMetricError("prometheus", fmt.Errorf("%w: %w", errors.ErrCPUUnavailable, err))
	}

	v, ok := singleValue(result)
	if !ok {
		return 0, errors.NewMetricError("prometheus",
			fmt.Errorf("%w: query returned %s", errors.ErrMalformedResponse, describe(result)))
	}
	return clampPercent(v), nil
}

// singleValue extracts the value of a scalar or a one-element vector.
func singleValue(v model.Value) (float64, bool) {
	var f float64
	switch r := v.(type) {
	case *model.Scalar:
		f = float64(r.Value)
	case model.Vector:
		if len(r) != 1 {
			return 0, false
		}
		f = float64(r[0].Value)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func describe(v model.Value) string {
	switch r := v.(type) {
	case nil:
		return "no data"
	case model.Vector:
		return fmt.Sprintf("a vector of %d samples", len(r))
	default:
		return "a " + v.Type().String()
	}
}
