package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"time"

	"tracker-ng/internal/traffic"
)

//go:embed assets/*
var embeddedAssets embed.FS

// Mount attaches an extra handler, such as the metrics endpoint.
type Mount struct {
	Pattern string
	Handler http.Handler
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

type TrafficResponse struct {
	NowUTC  string           `json:"now_utc"`
	Targets []traffic.Target `json:"targets"`
}

// getOnly rejects anything but GET with 405.
func getOnly(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}

// fallbackPage is served at / when the embedded UI cannot be read.
func fallbackPage(w http.ResponseWriter, snap StatusSnapshot) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>tracker-ng</title></head><body>"+
		"<h1>tracker-ng</h1><p>UI unavailable, see <a href=\"/api/status\">/api/status</a>.</p>"+
		"<pre>gdl90_dest=%s\nframes_sent_total=%d\ntargets=%d\nlast_tick_utc=%s</pre></body></html>",
		snap.GDL90Dest, snap.FramesSentTotal, snap.Targets, snap.LastTickUTC)
}

// Handler routes the JSON API, any extra mounts and the embedded dashboard.
func Handler(status *Status, settings SettingsStore, logs *LogBuffer, mounts ...Mount) http.Handler {
	mux := http.NewServeMux()
	ui, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		ui = nil
	}

	mux.HandleFunc("/api/status", getOnly(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, status.Snapshot(time.Now().UTC()))
	}))
	mux.HandleFunc("/api/traffic", getOnly(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC()
		targets := status.Traffic(now)
		if targets == nil {
			targets = []traffic.Target{}
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, TrafficResponse{NowUTC: now.Format(time.RFC3339Nano), Targets: targets})
	}))
	mux.Handle("/api/settings", settings.Handler())
	mux.Handle("/api/about", AboutHandler(status))
	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}
	for _, m := range mounts {
		mux.Handle(m.Pattern, m.Handler)
	}

	if ui != nil {
		files := http.StripPrefix("/assets/", http.FileServer(http.FS(ui)))
		mux.HandleFunc("/assets/", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			files.ServeHTTP(w, r)
		})
	}

	// Any other path outside /api and /assets gets the single-page UI.
	mux.HandleFunc("/", getOnly(func(w http.ResponseWriter, r *http.Request) {
		if dir := path.Dir(r.URL.Path); r.URL.Path != "/" && (dir == "/api" || dir == "/assets") {
			http.NotFound(w, r)
			return
		}
		if ui == nil {
			fallbackPage(w, status.Snapshot(time.Now().UTC()))
			return
		}
		b, err := fs.ReadFile(ui, "index.html")
		if err != nil {
			http.Error(w, "ui unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	}))

	return mux
}

// Serve runs the web server on listenAddr until ctx is cancelled.
func Serve(ctx context.Context, listenAddr string, status *Status, settings SettingsStore, logs *LogBuffer, mounts ...Mount) error {
	if status == nil {
		status = NewStatus()
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(status, settings, logs, mounts...),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
