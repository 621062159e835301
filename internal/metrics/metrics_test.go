package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRecorderRegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.FrameProcessed("upsert")
	r.FrameDropped("decode_error")
	r.ReconnectAttempted()
	r.SetActiveSubscriptions(4)
	r.SetViewEntries("OreRound/list", 10)
	r.BacklogDropped()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var found bool
	for _, fam := range families {
		if fam.GetName() == "hyperstack_client_active_subscriptions" {
			found = true
			require.Len(t, fam.Metric, 1)
			require.Equal(t, float64(4), fam.Metric[0].GetGauge().GetValue())
		}
	}
	require.True(t, found)
}

func TestNopRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.FrameProcessed("upsert")
	NewNop().FrameDropped("x")
}
