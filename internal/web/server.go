package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"loctrack/internal/gps"
	"loctrack/internal/notice"
	"loctrack/internal/observability"
	"loctrack/internal/stream"
	"loctrack/internal/table"
	"loctrack/internal/tracker"
)

//go:embed assets/*
var embeddedAssets embed.FS

// statusClientClosedRequest is nginx's code for a client that hung up before
// the response was ready.
const statusClientClosedRequest = 499

// Deps are the collaborators the HTTP front end drives. Session is required;
// the rest may be nil and their endpoints then answer 404.
type Deps struct {
	Session *tracker.Session
	Table   *table.Table
	Notices *notice.Board
	Hub     *stream.Hub
	Status  *Status

	// LocateTimeout bounds POST /api/tracking/locate. Zero means 15s.
	LocateTimeout time.Duration
	// Metrics mounts /metrics.
	Metrics bool
}

func Handler(d Deps) http.Handler {
	if d.Status == nil {
		d.Status = NewStatus()
	}
	if d.LocateTimeout <= 0 {
		d.LocateTimeout = 15 * time.Second
	}
	s := d.Session

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	assetsFS, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		assetsFS = nil
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/tracking", func(r chi.Router) {
		r.Post("/start", func(w http.ResponseWriter, _ *http.Request) {
			// The loop outlives the request; Stop, Clear and Close end it.
			if err := s.Start(context.Background()); err != nil {
				writeSessionError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tracking": true})
		})
		r.Post("/stop", func(w http.ResponseWriter, _ *http.Request) {
			s.Stop()
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tracking": false})
		})
		r.Post("/clear", func(w http.ResponseWriter, _ *http.Request) {
			s.Clear()
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		})
		r.Post("/locate", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d.LocateTimeout)
			defer cancel()
			smp, err := s.GetLocation(ctx)
			if err != nil {
				writeSessionError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, smp)
		})
	})

	r.Post("/api/map", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.DisplayMap())
	})
	r.Get("/api/map", func(w http.ResponseWriter, _ *http.Request) {
		st, ok := s.MapState()
		if !ok {
			http.Error(w, "map not created", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	r.Get("/api/samples", func(w http.ResponseWriter, _ *http.Request) {
		samples := s.Samples()
		if samples == nil {
			samples = []tracker.Sample{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"samples": samples})
	})
	r.Get("/api/summary", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Summary())
	})

	r.Get("/api/table", func(w http.ResponseWriter, r *http.Request) {
		if d.Table == nil {
			http.NotFound(w, r)
			return
		}
		rows := d.Table.Rows()
		if rows == nil {
			rows = []table.Row{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"columns": []string{"Timestamp", "Latitude", "Longitude"},
			"rows":    rows,
		})
	})

	r.Get("/api/notices", func(w http.ResponseWriter, r *http.Request) {
		if d.Notices == nil {
			http.NotFound(w, r)
			return
		}
		tail := 50
		if v := strings.TrimSpace(r.URL.Query().Get("tail")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 1000 {
				http.Error(w, "tail must be an integer in [1,1000]", http.StatusBadRequest)
				return
			}
			tail = n
		}
		items, total := d.Notices.Snapshot(tail)
		if items == nil {
			items = []notice.Notice{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"total":   total,
			"dropped": d.Notices.Dropped(),
			"notices": items,
		})
	})

	r.Get("/api/export", func(w http.ResponseWriter, r *http.Request) {
		csv := s.ExportCSV()
		w.Header().Set("Cache-Control", "no-store")
		if strings.EqualFold(r.URL.Query().Get("format"), "uri") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte(tracker.DataURI(csv)))
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", tracker.ExportFileName))
		_, _ = w.Write([]byte(csv))
	})

	r.Get("/api/stream", func(w http.ResponseWriter, r *http.Request) {
		if d.Hub == nil {
			http.NotFound(w, r)
			return
		}
		serveEvents(w, r, d.Hub)
	})

	r.Get("/api/status", func(w http.ResponseWriter, _ *http.Request) {
		snap := d.Status.Snapshot(time.Now().UTC())
		snap.Session = s.Summary()
		if d.Hub != nil {
			snap.Clients = d.Hub.ClientCount()
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Get("/api/about", aboutHandler(s.ID))

	if d.Metrics {
		r.Handle("/metrics", observability.Handler())
	}

	if assetsFS != nil {
		fileServer := http.FileServer(http.FS(assetsFS))
		r.Handle("/assets/*", http.StripPrefix("/assets/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			fileServer.ServeHTTP(w, r)
		})))
	}

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		if assetsFS == nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>loctrack</title></head><body>")
			_, _ = fmt.Fprintf(w, "<h1>loctrack</h1><p>Web UI is unavailable. Use <a href=\"/api/summary\">/api/summary</a>.</p>")
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

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeSessionError maps session and provider errors to HTTP statuses.
// Capability and stale-fix conflicts are 409, fix failures 502 (504 for a
// timeout).
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracker.ErrUnavailable):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "unavailable", Message: "Geolocation is not supported by this provider."})
	case errors.Is(err, tracker.ErrStale):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "stale", Message: err.Error()})
	case errors.Is(err, tracker.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "closed", Message: err.Error()})
	case errors.Is(err, context.Canceled):
		writeJSON(w, statusClientClosedRequest, errorResponse{Error: "canceled", Message: "request canceled"})
	default:
		code := gps.Classify(err)
		status := http.StatusBadGateway
		if code == gps.Timeout {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, errorResponse{Error: code.String(), Message: code.Notice()})
	}
}

// serveEvents streams hub events as server-sent events until the client
// disconnects.
func serveEvents(w http.ResponseWriter, r *http.Request, hub *stream.Hub) {
	rc := http.NewResponseController(w)
	// The server's WriteTimeout would cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected\n\n"))
	if err := rc.Flush(); err != nil {
		return
	}

	client := hub.Register()
	defer hub.Unregister(client)

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", msg)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
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
