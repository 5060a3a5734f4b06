package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderActive(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.ProviderActive("mpc")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveProvider.WithLabelValues("mpc")))

	m.ProviderActive("plaintext")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveProvider.WithLabelValues("mpc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveProvider.WithLabelValues("plaintext")))

	m.ProviderSwitch("mpc", "plaintext")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderSwitches.WithLabelValues("mpc", "plaintext")))
}

func TestTrackerAndSettlementCounters(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.ComputationsPending("compare", 3)
	m.ComputationResolved("compare", "completed")
	m.ComputationAbandoned("fill")
	m.SettlementLeg("public", "base", "ok")
	m.ProofRequest("ok", 2*time.Second)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.PendingComputations.WithLabelValues("compare")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolvedComputations.WithLabelValues("compare", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AbandonedComputations.WithLabelValues("fill")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SettlementLegs.WithLabelValues("public", "base", "ok")))
}

func TestHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics("darkpool", registry)
	m.ProviderActive("tee")

	srv := httptest.NewServer(Handler(registry))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOrNop(t *testing.T) {
	assert.Equal(t, Nop{}, OrNop(nil))
	var r Recorder = Nop{}
	r.ProviderActive("mpc")
}
