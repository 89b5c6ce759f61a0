package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"snapkey/internal/hotkey"
)

type metrics struct {
	captures       atomic.Int64
	captureErrors  atomic.Int64
	passes         atomic.Int64
	registerErrors atomic.Int64
	ipc            atomic.Int64
	dropped        atomic.Int64
	hookSent       atomic.Int64
	hookSkipped    atomic.Int64
}

func (m *metrics) observeCapture(err error) {
	if err != nil {
		m.captureErrors.Add(1)
		return
	}
	m.captures.Add(1)
}

func (m *metrics) observePass(r hotkey.PassResult) {
	m.passes.Add(1)
	m.registerErrors.Add(int64(r.Failed))
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Captures       int64
	CaptureErrors  int64
	Passes         int64
	RegisterErrors int64
	IPCRequests    int64
	Dropped        int64
	HooksSent      int64
	HooksSkipped   int64
}

func (m *metrics) snapshot() Snapshot {
	return Snapshot{
		Captures:       m.captures.Load(),
		CaptureErrors:  m.captureErrors.Load(),
		Passes:         m.passes.Load(),
		RegisterErrors: m.registerErrors.Load(),
		IPCRequests:    m.ipc.Load(),
		Dropped:        m.dropped.Load(),
		HooksSent:      m.hookSent.Load(),
		HooksSkipped:   m.hookSkipped.Load(),
	}
}

// Metrics returns the current counters.
func (a *App) Metrics() Snapshot { return a.metrics.snapshot() }

func (a *App) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	s := a.metrics.snapshot()
	fmt.Fprintf(w, "snapkey_captures_total %d\n", s.Captures)
	fmt.Fprintf(w, "snapkey_capture_errors_total %d\n", s.CaptureErrors)
	fmt.Fprintf(w, "snapkey_hotkey_passes_total %d\n", s.Passes)
	fmt.Fprintf(w, "snapkey_hotkey_register_errors_total %d\n", s.RegisterErrors)
	fmt.Fprintf(w, "snapkey_ipc_requests_total %d\n", s.IPCRequests)
	fmt.Fprintf(w, "snapkey_dropped_total %d\n", s.Dropped)
	fmt.Fprintf(w, "snapkey_hooks_sent_total %d\n", s.HooksSent)
	fmt.Fprintf(w, "snapkey_hooks_skipped_total %d\n", s.HooksSkipped)
	fmt.Fprintf(w, "snapkey_uptime_seconds %.0f\n", a.Uptime().Seconds())
}

func (a *App) metricsServe(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", a.metricsHandler)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	a.logger.Infof("metrics listening on http://%s/metrics", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Warnf("metrics server: %v", err)
	}
}
