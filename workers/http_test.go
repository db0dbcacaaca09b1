package workers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"mabridge/logger"
	"mabridge/workers/handlers"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- ServeMetrics(ctx, "127.0.0.1:0", prometheus.NewRegistry(), logger.NewNop())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeReportsListenError(t *testing.T) {
	err := ServeHTTP(context.Background(), HTTPConfig{Listen: "256.0.0.1:http"}, http.NotFoundHandler(), logger.NewNop())
	require.Error(t, err)
}

func TestServeSSLNeedsCertificate(t *testing.T) {
	dir := t.TempDir()
	err := ServeHTTP(context.Background(), HTTPConfig{
		Listen:   "127.0.0.1:0",
		UseSSL:   true,
		CertFile: filepath.Join(dir, "certchain.pem"),
		KeyFile:  filepath.Join(dir, "privatekey.pem"),
	}, http.NotFoundHandler(), logger.NewNop())
	require.Error(t, err)
}

func TestRouterCORSPreflight(t *testing.T) {
	env := newTestEnv(t, ownerKey)
	router := NewRouter(handlers.New(env.reg, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/chains/1/redeem", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}
