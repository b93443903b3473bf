package web

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"time"

	"indoornav/internal/engine"
	"indoornav/internal/logging"
	"indoornav/internal/recal"
)

//go:embed assets/*
var embeddedAssets embed.FS

// Navigator is the engine surface the web UI drives. *engine.Engine
// satisfies it.
type Navigator interface {
	Snapshot() engine.Snapshot
	Subscribe(buffer int) (int, <-chan engine.Event)
	Unsubscribe(id int)

	BeginSession(ctx context.Context, start engine.Position, dest engine.Destination) error
	EndSession(ctx context.Context) error
	StartSensors(ctx context.Context) error
	StopSensors(ctx context.Context) error
	StartRecalibrationCapture(ctx context.Context) error
	StopRecalibrationCapture(ctx context.Context) error
	Recalibrate(ctx context.Context, payload string) (recal.Result, error)

	PushHeading(deg float64) bool
	PushAltitude(a engine.AltitudeSample) bool
	PushMotion(m engine.MotionSample) bool
}

type Options struct {
	Nav    Navigator
	Status *Status
	Logs   *logging.Tail
	// Guide gates recalibration requests that carry a decoder region. Nil
	// accepts any region.
	Guide *recal.Guide
	Log   *slog.Logger
}

const controlTimeout = 5 * time.Second

func Handler(opts Options) http.Handler {
	if opts.Status == nil {
		opts.Status = NewStatus()
	}
	if opts.Log == nil {
		opts.Log = logging.Component("web")
	}
	api := &api{nav: opts.Nav, guide: opts.Guide, log: opts.Log}

	mux := http.NewServeMux()

	assetsFS, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		assetsFS = nil
	}

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, opts.Status.Snapshot(time.Now().UTC(), opts.Nav.Snapshot()))
	})

	mux.HandleFunc("/api/session", api.session)
	mux.HandleFunc("/api/sensors/start", api.post(func(ctx context.Context) error { return api.nav.StartSensors(ctx) }))
	mux.HandleFunc("/api/sensors/stop", api.post(func(ctx context.Context) error { return api.nav.StopSensors(ctx) }))
	mux.HandleFunc("/api/recalibration/start", api.post(func(ctx context.Context) error {
		return api.nav.StartRecalibrationCapture(ctx)
	}))
	mux.HandleFunc("/api/recalibration/cancel", api.post(api.cancelCapture))
	mux.HandleFunc("/api/recalibration", api.recalibrate)

	if opts.Logs != nil {
		mux.Handle("/api/logs", LogsHandler(opts.Logs))
	}

	mux.Handle("/ws/events", &eventsSocket{nav: opts.Nav, log: opts.Log})
	mux.Handle("/ws/sensors", &sensorsSocket{nav: opts.Nav, log: opts.Log})

	if assetsFS != nil {
		fileServer := http.FileServer(http.FS(assetsFS))
		mux.Handle("/assets/", http.StripPrefix("/assets/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			fileServer.ServeHTTP(w, r)
		})))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// SPA shell: serve the UI for / and any unknown paths (except /api/* and /assets/*).
		if r.URL.Path != "/" {
			if path.Dir(r.URL.Path) == "/api" || path.Dir(r.URL.Path) == "/assets" {
				http.NotFound(w, r)
				return
			}
		}

		if assetsFS == nil {
			snap := opts.Nav.Snapshot()
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>indoornav</title></head><body>")
			_, _ = fmt.Fprintf(w, "<h1>indoornav</h1>")
			_, _ = fmt.Fprintf(w, "<p>Web UI is unavailable. Use <a href=\"/api/status\">/api/status</a>.</p>")
			_, _ = fmt.Fprintf(w, "<pre>mode=%s\nfloor=%d\nx=%.4f y=%.4f</pre>",
				snap.Mode, snap.Position.FloorLevel, snap.Position.X, snap.Position.Y,
			)
			_, _ = fmt.Fprintf(w, "</body></html>")
			return
		}

		b, err := fs.ReadFile(assetsFS, "index.html")
		if err != nil {
			http.Error(w, "ui unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	})

	return mux
}

func Serve(ctx context.Context, listenAddr string, opts Options) error {
	if opts.Nav == nil {
		return fmt.Errorf("web: navigator is nil")
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}
