package adapter

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/heptiolabs/healthcheck"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultGoroutineThreshold = 10000

// Component statuses that fail the readiness check.
var failingStatuses = map[string]bool{
	"failed": true,
	"error":  true,
}

// HealthAdapter serves /live and /ready from component status reports.
type HealthAdapter struct {
	handler healthcheck.Handler
	status  cmap.ConcurrentMap[string, string]
}

// NewHealthAdapter creates the adapter. When reg is non-nil, check results
// are also exported as Prometheus gauges under namespace.
func NewHealthAdapter(reg prometheus.Registerer, namespace string) *HealthAdapter {
	var h healthcheck.Handler
	if reg != nil {
		h = healthcheck.NewMetricsHandler(reg, namespace)
	} else {
		h = healthcheck.NewHandler()
	}
	a := &HealthAdapter{handler: h, status: cmap.New[string]()}
	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(defaultGoroutineThreshold))
	h.AddReadinessCheck("components", a.check)
	return a
}

// ReportHealth records the status of a component. Ready fails while any
// component is reported as failed.
func (a *HealthAdapter) ReportHealth(component string, status string) error {
	if component == "" {
		return fmt.Errorf("health: empty component name")
	}
	a.status.Set(component, status)
	return nil
}

// Status returns the last status reported for component.
func (a *HealthAdapter) Status(component string) (string, bool) {
	return a.status.Get(component)
}

func (a *HealthAdapter) check() error {
	var failed []string
	for c, s := range a.status.Items() {
		if failingStatuses[s] {
			failed = append(failed, c)
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return fmt.Errorf("failed: %s", strings.Join(failed, ","))
	}
	return nil
}

// ServeHTTP serves /live and /ready.
func (a *HealthAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}
