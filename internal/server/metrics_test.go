package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func Test_Metrics_EndpointServesRegistry(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &fakeAsker{})

	// One ask so the counters have samples.
	postAsk(t, s, `{"question":"q"}`)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "docqa_ask_requests_total") {
		t.Error("docqa_ask_requests_total missing from /metrics")
	}
}

func Test_Metrics_AskOutcomes(t *testing.T) {
	t.Parallel()
	s, reg := newTestServer(t, &fakeAsker{})

	postAsk(t, s, `{"question":"q"}`)
	postAsk(t, s, `{"question":"q"}`)
	postAsk(t, s, `not json`)

	if got := gatherCounter(t, reg, "docqa_ask_requests_total", "outcome", "ok"); got != 2 {
		t.Errorf("ok: want 2, got %v", got)
	}
	if got := gatherCounter(t, reg, "docqa_ask_requests_total", "outcome", "bad_request"); got != 1 {
		t.Errorf("bad_request: want 1, got %v", got)
	}
	if got := gatherCounter(t, reg, "docqa_http_requests_total", "code", "400"); got != 1 {
		t.Errorf("http 400: want 1, got %v", got)
	}
}

func Test_Metrics_InFlightGauge(t *testing.T) {
	t.Parallel()
	s, reg := newTestServer(t, &fakeAsker{})

	s.metrics.askInFlight.Inc()
	s.metrics.askInFlight.Inc()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "docqa_ask_in_flight" {
			if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 2 {
				t.Errorf("want in_flight=2, got %v", v)
			}
			return
		}
	}
	t.Error("docqa_ask_in_flight not found in gathered metrics")
}

// gatherCounter sums the counter samples of family name whose label has
// value.
func gatherCounter(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}
