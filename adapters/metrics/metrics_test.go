package metrics_test

import (
	"testing"

	"github.com/artpar/ircmod/adapters/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func TestNewWithRegistry(t *testing.T) {
	// Use a new registry to avoid conflicts with other tests
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}

	// Verify all metrics are initialized
	if m.ModulesLoaded == nil {
		t.Error("ModulesLoaded is nil")
	}
	if m.ModuleErrors == nil {
		t.Error("ModuleErrors is nil")
	}
	if m.RehashesTotal == nil {
		t.Error("RehashesTotal is nil")
	}
	if m.RehashErrors == nil {
		t.Error("RehashErrors is nil")
	}
	if m.HookDispatches == nil {
		t.Error("HookDispatches is nil")
	}
	if m.RegistryEntries == nil {
		t.Error("RegistryEntries is nil")
	}
	if m.HistoryAdds == nil {
		t.Error("HistoryAdds is nil")
	}
}

func TestHookDispatches(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.HookDispatches.WithLabelValues("prechanmsg").Inc()
	m.HookDispatches.WithLabelValues("prechanmsg").Inc()
	m.HookDispatches.WithLabelValues("rehash").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "ircmod_hook_dispatches_total" {
			found = true
			if len(f.GetMetric()) != 2 {
				t.Errorf("expected 2 metric series, got %d", len(f.GetMetric()))
			}
		}
	}
	if !found {
		t.Error("ircmod_hook_dispatches_total metric not found")
	}
}

func TestHookObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	obs := m.HookObserver()
	obs("serverstart")
	obs("serverstart")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	for _, f := range families {
		if f.GetName() == "ircmod_hook_dispatches_total" {
			val := f.GetMetric()[0].GetCounter().GetValue()
			if val != 2 {
				t.Errorf("expected counter value 2, got %f", val)
			}
			return
		}
	}
	t.Error("ircmod_hook_dispatches_total metric not found")
}

func TestModulesLoaded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ModulesLoaded.Set(3)
	m.ModulesLoaded.Dec()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "ircmod_modules_loaded" {
			found = true
			val := f.GetMetric()[0].GetGauge().GetValue()
			if val != 2 {
				t.Errorf("expected value 2, got %f", val)
			}
		}
	}
	if !found {
		t.Error("ircmod_modules_loaded metric not found")
	}
}

func TestRehashCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.RehashesTotal.Inc()
	m.RehashesTotal.Inc()
	m.RehashErrors.Inc()
	m.LastRehash.SetToCurrentTime()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	foundTotal := false
	foundErrors := false
	foundLast := false
	for _, f := range families {
		switch f.GetName() {
		case "ircmod_rehashes_total":
			foundTotal = true
			if v := f.GetMetric()[0].GetCounter().GetValue(); v != 2 {
				t.Errorf("expected 2 rehashes, got %f", v)
			}
		case "ircmod_rehash_errors_total":
			foundErrors = true
		case "ircmod_last_rehash_timestamp":
			foundLast = true
		}
	}
	if !foundTotal {
		t.Error("ircmod_rehashes_total metric not found")
	}
	if !foundErrors {
		t.Error("ircmod_rehash_errors_total metric not found")
	}
	if !foundLast {
		t.Error("ircmod_last_rehash_timestamp metric not found")
	}
}

func TestRegistryEntries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.RegistryEntries.WithLabelValues("capability").Set(4)
	m.RegistryEntries.WithLabelValues("messagetag").Set(2)
	m.RegistryEntries.WithLabelValues("extban").Set(1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "ircmod_registry_entries" {
			found = true
			if len(f.GetMetric()) != 3 {
				t.Errorf("expected 3 metric series, got %d", len(f.GetMetric()))
			}
		}
	}
	if !found {
		t.Error("ircmod_registry_entries metric not found")
	}
}

func TestHistoryMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.HistoryAdds.WithLabelValues("mem").Add(10)
	m.HistoryQueries.WithLabelValues("mem").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	foundAdds := false
	foundQueries := false
	for _, f := range families {
		if f.GetName() == "ircmod_history_adds_total" {
			foundAdds = true
		}
		if f.GetName() == "ircmod_history_queries_total" {
			foundQueries = true
		}
	}
	if !foundAdds {
		t.Error("ircmod_history_adds_total metric not found")
	}
	if !foundQueries {
		t.Error("ircmod_history_queries_total metric not found")
	}
}
