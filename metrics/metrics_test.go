package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.Redemptions.WithLabelValues("5", ResultSuccess).Inc()
	m.Redemptions.WithLabelValues("5", ResultSuccess).Inc()
	m.LastObservedNonce.WithLabelValues("5").Set(7)

	require.Equal(t, float64(2), testutil.ToFloat64(m.Redemptions.WithLabelValues("5", ResultSuccess)))
	require.Equal(t, float64(7), testutil.ToFloat64(m.LastObservedNonce.WithLabelValues("5")))

	// a second set on a fresh registry must not collide
	require.NotPanics(t, func() { NewMetricsWithRegistry(prometheus.NewRegistry()) })
}
