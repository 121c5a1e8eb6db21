package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/battery.report/internal/display"
	"github.com/banshee-data/battery.report/internal/hbi"
	"github.com/banshee-data/battery.report/internal/httputil"
	"github.com/banshee-data/battery.report/internal/monitoring"
	"github.com/banshee-data/battery.report/internal/timeutil"
	"github.com/banshee-data/battery.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Telemetry is the part of the running core the API reads.
type Telemetry interface {
	Available() bool
	Store() *hbi.Store
	Stats() *hbi.PacketStats
}

// Board is the display view served by the API.
type Board interface {
	Widgets() []display.Widget
	Notes() []display.Note
	Subscribe() (string, chan display.Event)
	Unsubscribe(id string)
}

type Server struct {
	telemetry Telemetry
	board     Board
	clock     timeutil.Clock
	started   time.Time
}

func NewServer(telemetry Telemetry, board Board, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{
		telemetry: telemetry,
		board:     board,
		clock:     clock,
		started:   clock.Now(),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/devices", s.listDevices)
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/notifications", s.listNotifications)
	mux.HandleFunc("/api/events", s.streamEvents)
	mux.HandleFunc("/api/status", s.showStatus)
	return mux
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}
	httputil.WriteJSONOK(w, s.board.Widgets())
}

// stateEntry is a store entry with its derived display values.
type stateEntry struct {
	hbi.Status
	Name     string              `json:"name"`
	Key      string              `json:"key"`
	Observed bool                `json:"observed"`
	Percent  float64             `json:"percent"`
	State    hbi.ConnectionState `json:"state"`
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}
	snapshot := s.telemetry.Store().Snapshot()
	out := make([]stateEntry, 0, len(snapshot))
	for _, st := range snapshot {
		out = append(out, stateEntry{
			Status:   st,
			Name:     st.Device.String(),
			Key:      st.Device.Key(),
			Observed: st.Observed(),
			Percent:  st.Percent(),
			State:    st.State(),
		})
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}
	notes := s.board.Notes()
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		if len(notes) > limit {
			notes = notes[len(notes)-limit:]
		}
	}
	httputil.WriteJSONOK(w, notes)
}

// streamEvents sends board changes as server-sent events until the client
// disconnects or the board closes.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, events := s.board.Subscribe()
	defer s.board.Unsubscribe(id)

	// Send initial ping to establish connection
	_, _ = w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				monitoring.Logf("failed to encode board event: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

type statusResponse struct {
	Available bool            `json:"available"`
	Stats     hbi.StatsTotals `json:"stats"`
	Uptime    string          `json:"uptime"`
	Version   string          `json:"version"`
	GitSHA    string          `json:"git_sha"`
	BuildTime string          `json:"build_time"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}
	httputil.WriteJSONOK(w, statusResponse{
		Available: s.telemetry.Available(),
		Stats:     s.telemetry.Stats().Totals(),
		Uptime:    s.clock.Since(s.started).Round(time.Second).String(),
		Version:   version.Version,
		GitSHA:    version.GitSHA,
		BuildTime: version.BuildTime,
	})
}
