package rest

import (
	"net/http"
	"sort"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Point is one exported data point.
type Point struct {
	Name       string            `json:"name"`
	Kind       string            `json:"kind"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value"`
}

// MetricsHandler renders a collection of the manual reader as JSON.
type MetricsHandler struct {
	reader *sdkmetric.ManualReader
}

func NewMetricsHandler(reader *sdkmetric.ManualReader) *MetricsHandler {
	return &MetricsHandler{reader: reader}
}

func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(r.Context(), &rm); err != nil {
		http.Error(w, "collect failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": Flatten(rm)})
}

// Flatten turns int64/float64 sums and gauges into points sorted by name.
func Flatten(rm metricdata.ResourceMetrics) []Point {
	var points []Point
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				points = appendPoints(points, m.Name, "sum", data.DataPoints)
			case metricdata.Sum[float64]:
				points = appendPoints(points, m.Name, "sum", data.DataPoints)
			case metricdata.Gauge[int64]:
				points = appendPoints(points, m.Name, "gauge", data.DataPoints)
			case metricdata.Gauge[float64]:
				points = appendPoints(points, m.Name, "gauge", data.DataPoints)
			}
		}
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Name < points[j].Name })
	return points
}

func appendPoints[N int64 | float64](points []Point, name, kind string, dps []metricdata.DataPoint[N]) []Point {
	for _, dp := range dps {
		p := Point{Name: name, Kind: kind, Value: float64(dp.Value)}
		if dp.Attributes.Len() > 0 {
			p.Attributes = make(map[string]string, dp.Attributes.Len())
			for _, kv := range dp.Attributes.ToSlice() {
				p.Attributes[string(kv.Key)] = kv.Value.Emit()
			}
		}
		points = append(points, p)
	}
	return points
}
