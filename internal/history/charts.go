package history

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/tailscale/tailsql/server/tailsql"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/battery.report/internal/hbi"
	"github.com/banshee-data/battery.report/internal/httputil"
	"github.com/banshee-data/battery.report/internal/timeutil"
)

// echartsAssetsPrefix serves the echarts bundle from the public CDN.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// DefaultWindow is the history shown when no ?hours= is given.
const DefaultWindow = 24 * time.Hour

var deviceColors = map[hbi.Device]color.RGBA{
	hbi.Headset:         {R: 0x31, G: 0x68, B: 0x8e, A: 0xff},
	hbi.ControllerLeft:  {R: 0x35, G: 0xb7, B: 0x79, A: 0xff},
	hbi.ControllerRight: {R: 0xfd, G: 0xa5, B: 0x2b, A: 0xff},
}

// Handlers serves chart and drain-rate views over a DB.
type Handlers struct {
	db    *DB
	clock timeutil.Clock
}

// NewHandlers creates chart handlers. clock may be nil.
func NewHandlers(db *DB, clock timeutil.Clock) *Handlers {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Handlers{db: db, clock: clock}
}

func (h *Handlers) window(r *http.Request) (time.Time, error) {
	window := DefaultWindow
	if v := r.URL.Query().Get("hours"); v != "" {
		hours, err := strconv.ParseFloat(v, 64)
		if err != nil || hours <= 0 {
			return time.Time{}, fmt.Errorf("invalid 'hours' parameter")
		}
		window = time.Duration(hours * float64(time.Hour))
	}
	return h.clock.Now().Add(-window), nil
}

func (h *Handlers) allReadings(since time.Time) (map[hbi.Device][]Reading, error) {
	out := make(map[hbi.Device][]Reading, len(hbi.Devices))
	for _, d := range hbi.Devices {
		rs, err := h.db.Readings(d, since)
		if err != nil {
			return nil, err
		}
		out[d] = rs
	}
	return out, nil
}

// HandleChart renders battery levels over time as an echarts line chart.
func (h *Handlers) HandleChart(w http.ResponseWriter, r *http.Request) {
	since, err := h.window(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	readings, err := h.allReadings(since)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load readings: %v", err))
		return
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Battery History", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Battery Level", Subtitle: "since " + since.Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "time", Name: "Time"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 100, Name: "Level (%)"}),
	)
	for _, d := range hbi.Devices {
		data := make([]opts.LineData, 0, len(readings[d]))
		for _, rd := range readings[d] {
			data = append(data, opts.LineData{Value: []interface{}{rd.At.UnixMilli(), rd.Level}})
		}
		line.AddSeries(d.String(), data)
	}
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Step: "end"}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// HandleChartPNG renders the same history as a static PNG.
func (h *Handlers) HandleChartPNG(w http.ResponseWriter, r *http.Request) {
	since, err := h.window(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	readings, err := h.allReadings(since)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load readings: %v", err))
		return
	}

	p := plot.New()
	p.Title.Text = "Battery Level"
	p.X.Label.Text = "Hours ago"
	p.Y.Label.Text = "Level (%)"
	p.Y.Min = 0
	p.Y.Max = 100
	p.Legend.Top = true

	now := h.clock.Now()
	for _, d := range hbi.Devices {
		rs := readings[d]
		if len(rs) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(rs))
		for i, rd := range rs {
			pts[i] = plotter.XY{X: -now.Sub(rd.At).Hours(), Y: float64(rd.Level)}
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to build line: %v", err))
			return
		}
		l.Color = deviceColors[d]
		l.Width = vg.Points(1.5)
		p.Add(l)
		p.Legend.Add(d.String(), l)
	}

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to encode plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// HandleDrain returns a drain estimate per device as JSON. Devices without
// enough data are reported with an error string.
func (h *Handlers) HandleDrain(w http.ResponseWriter, r *http.Request) {
	since, err := h.window(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	readings, err := h.allReadings(since)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load readings: %v", err))
		return
	}

	type result struct {
		Device   string         `json:"device"`
		Estimate *DrainEstimate `json:"estimate,omitempty"`
		Error    string         `json:"error,omitempty"`
	}
	out := make([]result, 0, len(hbi.Devices))
	for _, d := range hbi.Devices {
		res := result{Device: d.String()}
		if est, err := DrainRate(readings[d]); err != nil {
			res.Error = err.Error()
		} else {
			res.Estimate = &est
		}
		out = append(out, res)
	}
	httputil.WriteJSONOK(w, out)
}

// AttachAdminRoutes mounts the charts and a tailsql console under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux, clock timeutil.Clock) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Battery history",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	h := NewHandlers(db, clock)
	debug.HandleFunc("history/chart", "Battery level chart", h.HandleChart)
	debug.HandleFunc("history/chart.png", "Battery level chart (PNG)", h.HandleChartPNG)
	debug.HandleFunc("history/drain", "Battery drain estimates", h.HandleDrain)
	debug.KVFunc("History readings", func() any {
		n, err := db.Count()
		if err != nil {
			return err.Error()
		}
		return n
	})
	return nil
}
