package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartik102005/ecolearn/internal/core/eventbus"
	"github.com/kartik102005/ecolearn/internal/core/fault"
)

// gathered returns the value of the series of name whose labels contain want.
func gathered(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if got[k] != v {
					continue series
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("series %s%v not found", name, want)
	return 0
}

func TestObserveAuth_LabelsByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveAuth("sign_in", 10*time.Millisecond, nil)
	c.ObserveAuth("sign_in", time.Second, fault.Timeout("sign_in", time.Second))
	c.ObserveAuth("sign_in", time.Second, fault.Rejected("sign_in", 400, "Invalid login credentials"))

	assert.InDelta(t, 1, gathered(t, reg, "ecolearn_auth_operations_total", map[string]string{"op": "sign_in", "outcome": "ok"}), 0)
	assert.InDelta(t, 1, gathered(t, reg, "ecolearn_auth_operations_total", map[string]string{"op": "sign_in", "outcome": "timeout"}), 0)
	assert.InDelta(t, 1, gathered(t, reg, "ecolearn_auth_operations_total", map[string]string{"op": "sign_in", "outcome": "provider_rejected"}), 0)
}

func TestGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetUnread(4)
	c.SetUnread(3)
	assert.InDelta(t, 3, gathered(t, reg, "ecolearn_notifications_unread", nil), 0)

	c.AddSwept(0)
	c.AddSwept(5)
	assert.InDelta(t, 5, gathered(t, reg, "ecolearn_kv_swept_total", nil), 0)
}

func TestInstrumentBus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	bus := eventbus.New(1)
	InstrumentBus(bus, c)

	unsub := bus.Subscribe(func(eventbus.Event) {})
	defer unsub()
	assert.InDelta(t, 1, gathered(t, reg, "ecolearn_bus_subscribers", nil), 0)

	// Nothing is draining the bus, so the second publish overflows the buffer.
	bus.Publish(eventbus.Event{Type: eventbus.TypeStreakMilestone})
	bus.Publish(eventbus.Event{Type: eventbus.TypeStreakMilestone})

	assert.InDelta(t, 1, gathered(t, reg, "ecolearn_bus_events_total", map[string]string{"result": "published"}), 0)
	assert.InDelta(t, 1, gathered(t, reg, "ecolearn_bus_events_total", map[string]string{"result": "dropped"}), 0)
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.ObserveProfileFetch("network")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `ecolearn_profile_fetches_total{outcome="network"} 1`))
}
