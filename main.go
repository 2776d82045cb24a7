package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"photo-rater/internal/handlers"
	"photo-rater/internal/logging"
	"photo-rater/internal/memory"
	"photo-rater/internal/metasync"
	"photo-rater/internal/middleware"
	"photo-rater/internal/pipeline"
	"photo-rater/internal/ratings"
	"photo-rater/internal/realtime"
	"photo-rater/internal/scanner"
	"photo-rater/internal/startup"
	"photo-rater/internal/transcode"

	"github.com/gorilla/mux"
)

func main() {
	startTime := time.Now()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		logging.Fatal("Configuration error: %v", err)
	}

	// Open the rating store. This is the one component the application
	// cannot run without, so failure here halts startup with a distinct
	// diagnostic.
	storeCtx, cancelStore := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := ratings.Open(storeCtx, config.DataDir)
	cancelStore()
	if err != nil {
		if errors.Is(err, ratings.ErrStoreUnavailable) {
			logging.Fatal("Rating store at %s could not be opened: %v. "+
				"Check that the data directory is writable and the database file is not corrupted.",
				config.DataDir, err)
		}
		logging.Fatal("Failed to open rating store: %v", err)
	}
	defer store.Close()

	// Metadata sync (exiftool). A missing binary just disables the
	// feature; ratings keep working through the store alone.
	meta := metasync.New(metasync.Config{Timeout: config.ExiftoolTimeout})
	if !meta.Enabled() {
		logging.Warn("Metadata sync is disabled for this run")
	}

	// Image decoding. vips is the primary decoder; the ffmpeg-backed
	// fallback worker only spawns on demand.
	if err := transcode.InitVips(); err != nil {
		logging.Warn("vips initialization failed, falling back to pure-Go decoding: %v", err)
	}
	defer transcode.ShutdownVips()
	caps := transcode.NewCapabilities()

	var transcodes *transcode.Cache
	if config.TranscodeEnabled {
		transcodes, err = transcode.NewCache(config.TranscodeDir, caps)
		if err != nil {
			logging.Fatal("Failed to initialize transcode cache: %v", err)
		}
		defer transcodes.Stop()
	}

	// Event hub for thumbnailsReady / ratingsRefreshed pushes.
	hub := realtime.NewHub()
	go hub.Run()

	// Thumbnail pipeline, gated by the memory monitor
	monitor := memory.NewMonitor(memory.DefaultConfig())
	monitor.Start()
	defer monitor.Stop()

	var pipe *pipeline.Pipeline
	if config.ThumbnailsEnabled {
		pipe, err = pipeline.New(config.ThumbnailDir, 0, transcodes, caps, hub)
		if err != nil {
			logging.Fatal("Failed to initialize thumbnail pipeline: %v", err)
		}
		pipe.SetThrottle(monitor)
	} else {
		logging.Warn("Thumbnails are disabled; the grid will fall back to full-size sources")
	}

	// Scanner and library facade
	scan := scanner.NewScanner(pipe, store, meta, hub)
	library := scanner.NewLibrary(config.LibraryDir, scan, store, meta, pipe, transcodes)

	// Initial scan in the background so startup is not gated on a large
	// library.
	go func() {
		if _, err := library.Scan(context.Background()); err != nil {
			logging.Error("Initial scan failed: %v", err)
		}
	}()

	// Filesystem watcher triggering debounced re-scans.
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	if config.WatcherEnabled {
		go library.Watch(watchCtx, func() {
			if _, err := library.Scan(context.Background()); err != nil {
				logging.Error("Watcher-triggered scan failed: %v", err)
			}
		})
	}

	// HTTP surface
	h := handlers.New(library, pipe, transcodes, config)
	router := setupRouter(h, hub)

	loggedHandler := middleware.Logger(middleware.DefaultLoggingConfig())(router)
	meteredHandler := middleware.Metrics(middleware.DefaultMetricsConfig())(loggedHandler)
	handler := middleware.Compression(middleware.DefaultCompressionConfig())(meteredHandler)

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Metrics on a separate listener so the scrape endpoint is never
	// exposed on the API port.
	if config.MetricsEnabled {
		go func() {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", h.MetricsHandler())
			logging.Info("Metrics listening on :%s", config.MetricsPort)
			if err := http.ListenAndServe(":"+config.MetricsPort, metricsMux); err != nil {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	go handleShutdown(srv, cancelWatch, pipe, transcodes)

	logging.Info("Listening on :%s (startup took %s)", config.Port, time.Since(startTime).Round(time.Millisecond))
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("Server error: %v", err)
	}
}

func setupRouter(h *handlers.Handlers, hub *realtime.Hub) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scan", h.ScanLibrary).Methods("GET")
	api.HandleFunc("/rating", h.UpdateRating).Methods("POST")
	api.HandleFunc("/photo", h.DeletePhoto).Methods("DELETE")
	api.HandleFunc("/photo/rename", h.RenamePhoto).Methods("POST")
	api.HandleFunc("/file", h.GetFile).Methods("GET")
	api.HandleFunc("/cache/clear", h.ClearCache).Methods("POST")

	r.PathPrefix("/thumbs/").HandlerFunc(h.GetThumbnail).Methods("GET")
	r.HandleFunc("/ws", hub.ServeWS)

	return r
}

func handleShutdown(srv *http.Server, cancelWatch context.CancelFunc, pipe *pipeline.Pipeline, transcodes *transcode.Cache) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logging.Info("Received %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cancelWatch()

	if pipe != nil {
		logging.Info("Draining thumbnail pipeline")
		pipe.Drain()
	}

	if transcodes != nil {
		logging.Info("Stopping transcode worker")
		transcodes.Stop()
	}

	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	}

	logging.Info("Shutdown complete")
}
