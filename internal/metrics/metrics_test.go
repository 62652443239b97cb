package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestMustRegisterAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New()
	require.NotPanics(t, func() { c.MustRegister(reg) })
}

func TestCountersIncrementIndependently(t *testing.T) {
	c := New()
	c.ParcelDecodeErrors.Inc()
	c.ParcelDecodeErrors.Inc()
	c.HandlerErrors.WithLabelValues("focus").Inc()

	var m dto.Metric
	require.NoError(t, c.ParcelDecodeErrors.Write(&m))
	require.Equal(t, float64(2), m.GetCounter().GetValue())
}

func TestGaugesSetAndMeasure(t *testing.T) {
	c := New()
	c.FocusStackDepth.Set(3)

	var m dto.Metric
	require.NoError(t, c.FocusStackDepth.Write(&m))
	require.Equal(t, float64(3), m.GetGauge().GetValue())
}
