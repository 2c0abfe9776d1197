package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apigw/gateway/internal/model"
)

type staticSource []*model.UpstreamInstance

func (s staticSource) AllInstances() []*model.UpstreamInstance { return s }

func TestRunCycle_MarksHealthStates(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()
	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badSrv.Close()

	good := model.NewUpstreamInstance("good", okSrv.URL, okSrv.URL+"/health", 1, 0)
	bad := model.NewUpstreamInstance("bad", badSrv.URL, badSrv.URL+"/health", 1, 0)
	down := model.NewUpstreamInstance("down", "http://127.0.0.1:1", "http://127.0.0.1:1/health", 1, 0)

	c := New(staticSource{good, bad, down}, time.Minute, time.Second, nil)
	c.RunCycle(context.Background())

	require.Equal(t, model.Healthy, good.Health())
	require.Equal(t, model.Unhealthy, bad.Health(), "non-200 means unhealthy")
	require.Equal(t, model.Unhealthy, down.Health(), "connection fault means unhealthy")

	require.False(t, good.LastCheck().IsZero())
	_, probeErr := bad.LastProbe()
	require.NotEmpty(t, probeErr)
}

func TestRunCycle_SlowProbeDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	slowSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer slowSrv.Close()
	defer close(release)

	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()

	slow := model.NewUpstreamInstance("slow", slowSrv.URL, slowSrv.URL, 1, 0)
	fast := model.NewUpstreamInstance("fast", okSrv.URL, okSrv.URL, 1, 0)

	// Probe timeout of 200ms bounds the stuck probe; the fast one must
	// finish healthy within the same cycle.
	c := New(staticSource{slow, fast}, time.Minute, 200*time.Millisecond, nil)
	start := time.Now()
	c.RunCycle(context.Background())

	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, model.Healthy, fast.Health())
	require.Equal(t, model.Unhealthy, slow.Health())
}

func TestRun_StopsOnCancel(t *testing.T) {
	var cycles atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cycles.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	inst := model.NewUpstreamInstance("u", srv.URL, srv.URL, 1, 0)
	c := New(staticSource{inst}, 20*time.Millisecond, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return cycles.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("checker did not exit after cancellation")
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New(staticSource{}, 0, 0, nil)
	require.Equal(t, DefaultInterval, c.interval)
	require.Equal(t, DefaultProbeTimeout, c.timeout)
}
