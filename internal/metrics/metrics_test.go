package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.Resolutions.Inc()
	m.Denials.Inc()
	m.Heartbeats.WithLabelValues("hub").Inc()
	m.Heartbeats.WithLabelValues("spoke").Inc()
	m.ResolutionDuration.Observe(0.002)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"warden_resolutions_total 1",
		"warden_denials_total 1",
		`warden_heartbeats_total{kind="hub"} 1`,
		"warden_resolution_duration_seconds_count 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestNodeCountGauges(t *testing.T) {
	m := New()
	hubs, spokes := 2, 5
	m.RegisterNodeCounts(func() (int, int) { return hubs, spokes })

	scrape := func() string {
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		return rec.Body.String()
	}

	body := scrape()
	for _, want := range []string{"warden_online_hubs 2", "warden_online_spokes 5"} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}

	// Counts are derived at scrape time, not at registration.
	hubs, spokes = 0, 1
	body = scrape()
	for _, want := range []string{"warden_online_hubs 0", "warden_online_spokes 1"} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q after change", want)
		}
	}
}

func TestIsolatedRegistries(t *testing.T) {
	a := New()
	b := New()
	a.Resolutions.Inc()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if strings.Contains(rec.Body.String(), "warden_resolutions_total 1") {
		t.Error("registries are not isolated")
	}
}
