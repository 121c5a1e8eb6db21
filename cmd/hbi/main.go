// Command hbi runs the headset battery telemetry core as a standalone daemon:
// it binds the telemetry socket, drives the refresh tick, and serves the
// resulting device board over HTTP (and optionally gRPC health).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/battery.report/internal/api"
	"github.com/banshee-data/battery.report/internal/config"
	"github.com/banshee-data/battery.report/internal/display"
	"github.com/banshee-data/battery.report/internal/hbi"
	"github.com/banshee-data/battery.report/internal/hbi/core"
	"github.com/banshee-data/battery.report/internal/hbi/icons"
	"github.com/banshee-data/battery.report/internal/hbi/network"
	"github.com/banshee-data/battery.report/internal/health"
	"github.com/banshee-data/battery.report/internal/history"
	"github.com/banshee-data/battery.report/internal/timeutil"
	"github.com/banshee-data/battery.report/internal/version"
)

var (
	configFile     = flag.String("config", "", "Path to a JSON config file")
	listenPort     = flag.Int("listen-port", 0, "UDP port to receive telemetry on (overrides config)")
	requestAddr    = flag.String("request-addr", "", "Address to send the update request to (overrides config)")
	httpListen     = flag.String("listen", "", "HTTP listen address (overrides config)")
	grpcListen     = flag.String("grpc-listen", "", "gRPC health listen address (overrides config)")
	historyDB      = flag.String("history-db", "", "sqlite file for reading history (overrides config)")
	iconsDir       = flag.String("icons", "", "Icon directory (overrides config)")
	tickInterval   = flag.Duration("tick", 0, "Display refresh interval (overrides config)")
	replayPCAP     = flag.String("replay-pcap", "", "Replay telemetry from a pcap file instead of the socket")
	replayRealtime = flag.Bool("replay-realtime", false, "Honour capture timestamps when replaying")
	versionFlag    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println("hbi", version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("hbi: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// loadConfig reads the optional config file and applies flag overrides.
func loadConfig() (*config.ServiceConfig, error) {
	cfg := &config.ServiceConfig{}
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if *listenPort != 0 {
		cfg.ListenPort = listenPort
	}
	if *requestAddr != "" {
		cfg.RequestAddress = requestAddr
	}
	if *httpListen != "" {
		cfg.HTTPListen = httpListen
	}
	if *grpcListen != "" {
		cfg.GRPCListen = grpcListen
	}
	if *historyDB != "" {
		cfg.HistoryDB = historyDB
	}
	if *iconsDir != "" {
		cfg.IconsDir = iconsDir
	}
	if *tickInterval != 0 {
		s := tickInterval.String()
		cfg.TickInterval = &s
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg *config.ServiceConfig) error {
	clock := timeutil.RealClock{}
	board := display.NewBoard(display.Config{Clock: clock})
	defer board.Close()

	var resolver hbi.IconResolver
	if dir := cfg.GetIconsDir(); dir != "" {
		r, err := icons.LoadDir(dir)
		if err != nil {
			log.Printf("Icons disabled: %v", err)
		} else {
			resolver = r
		}
	}

	stats := hbi.NewPacketStats()

	var (
		observer network.StatusObserver
		hist     *history.DB
		recorder *history.Recorder
	)
	recCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()
	if path := cfg.GetHistoryDB(); path != "" {
		db, err := history.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer db.Close()
		hist = db
		recorder = history.NewRecorder(history.RecorderConfig{
			Sink:        db,
			Buffer:      cfg.GetHistoryBuffer(),
			Stats:       stats,
			Clock:       clock,
			LogInterval: cfg.GetStatsInterval(),
		})
		recorder.Start(recCtx)
		observer = recorder
	}

	handle := core.Start(ctx, core.Options{
		ListenAddress:  cfg.GetListenAddress(),
		ReceiveBuffer:  cfg.GetReceiveBuffer(),
		RequestAddress: cfg.GetRequestAddress(),
		RequestMessage: cfg.GetRequestMessage(),
		NotifyTitle:    cfg.GetNotifyTitle(),
		StatsInterval:  cfg.GetStatsInterval(),
		Display:        board,
		Notifier:       board,
		Icons:          resolver,
		Observer:       observer,
		Stats:          stats,
		ReplayPCAP:     *replayPCAP,
		ReplayPort:     cfg.GetListenPort(),
		ReplayRealtime: *replayRealtime,
	})
	if !handle.Available() {
		log.Printf("Running without telemetry: %v", handle.Err())
	}

	var healthServer *health.Server
	if addr := cfg.GetGRPCListen(); addr != "" {
		healthServer = health.NewServer(addr)
		if err := healthServer.Start(); err != nil {
			handle.Close()
			return fmt.Errorf("failed to start gRPC health server: %w", err)
		}
		healthServer.SetAvailable(handle.Available())
	}

	var wg sync.WaitGroup

	// refresh tick, the host's side of the lifecycle
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := clock.NewTicker(cfg.GetTickInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-handle.Done():
				// keep the last state on the board; health reflects the stop
				if healthServer != nil {
					healthServer.SetAvailable(false)
				}
				handle.Tick()
				<-ctx.Done()
				return
			case <-ticker.C():
				handle.Tick()
			}
		}
	}()

	if addr := cfg.GetHTTPListen(); addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(ctx, addr, handle, board, hist, clock)
		}()
	}

	<-ctx.Done()
	log.Printf("Shutting down...")
	if err := handle.Close(); err != nil {
		log.Printf("Telemetry close error: %v", err)
	}
	if healthServer != nil {
		healthServer.Stop()
	}
	wg.Wait()

	if recorder != nil {
		stopRecorder()
		<-recorder.Done()
	}
	stats.LogStats()
	return nil
}

func serveHTTP(ctx context.Context, addr string, handle *core.Handle, board *display.Board, hist *history.DB, clock timeutil.Clock) {
	mux := api.NewServer(handle, board, clock).ServeMux()
	board.AttachAdminRoutes(mux)
	if hist != nil {
		if err := hist.AttachAdminRoutes(mux, clock); err != nil {
			log.Printf("History admin routes disabled: %v", err)
		}
	}

	server := &http.Server{
		Addr:    addr,
		Handler: api.LoggingMiddleware(mux),
	}

	// Start server in a goroutine so it doesn't block
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	// SSE clients hold connections open; close them after a short grace period.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	board.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}
