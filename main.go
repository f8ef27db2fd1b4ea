// main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/akhenakh/swathgeo/geoloc"
	"github.com/akhenakh/swathgeo/geotiff"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

const appName = "swathgeo"

var (
	grpcAPIServer     *grpc.Server
	grpcHealthServer  *grpc.Server
	httpMetricsServer *http.Server
	httpRestServer    *http.Server
	grpcMetrics       = grpcprom.NewServerMetrics(grpcprom.WithServerHandlingTimeHistogram(
		grpcprom.WithHistogramBuckets([]float64{0.001, 0.01, 0.1, 0.3, 0.6, 1, 3}),
	))
)

// Config holds all configuration for the application, loaded from environment variables.
type Config struct {
	LogLevel          string  `env:"LOG_LEVEL" envDefault:"INFO"`
	HTTPPort          int     `env:"HTTP_PORT" envDefault:"8080"`
	APIPort           int     `env:"API_PORT" envDefault:"9200"`
	HealthPort        int     `env:"HEALTH_PORT" envDefault:"6666"`
	HTTPMetricsPort   int     `env:"METRICS_PORT" envDefault:"8888"`
	LonSource         string  `env:"LON_SOURCE,required"`
	LatSource         string  `env:"LAT_SOURCE,required"`
	CacheMaxSize      int64   `env:"CACHE_MAX_SIZE" envDefault:"1024"`
	CacheItemsToPrune uint32  `env:"CACHE_ITEMS_TO_PRUNE" envDefault:"100"`
	SampleScale       float64 `env:"SAMPLE_SCALE" envDefault:"1"`
	PruneTolerance    float64 `env:"PRUNE_TOLERANCE" envDefault:"0.045"`
	BatchConcurrency  int     `env:"BATCH_CONCURRENCY" envDefault:"8"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		fmt.Printf("failed to parse config: %+v\n", err)
		os.Exit(1)
	}

	logger := createLogger(cfg, appName)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	swath, err := setupSwath(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to load swath geolocation, shutting down", "error", err)
		os.Exit(1)
	}
	defer swath.Close()

	g, ctx := errgroup.WithContext(ctx)

	healthServer := health.NewServer()
	s := NewServer(swath.locator, swath.finder, newLookupMetrics(prometheus.DefaultRegisterer), cfg.BatchConcurrency)

	// gRPC Health Server
	g.Go(func() error {
		return startHealthServer(logger, cfg, healthServer)
	})

	// HTTP Metrics Server (Prometheus)
	g.Go(func() error {
		return startMetricsServer(logger, cfg)
	})

	// gRPC API Server
	g.Go(func() error {
		return startGRPCAPIServer(logger, cfg, healthServer, s)
	})

	// HTTP REST Server
	g.Go(func() error {
		return startHTTPRestServer(logger, cfg, s)
	})

	// Wait for termination signal or an error from one of the services
	select {
	case <-interrupt:
		slog.Warn("received termination signal, starting graceful shutdown")
		cancel()
	case <-ctx.Done():
		slog.Warn("context cancelled, starting graceful shutdown")
	}

	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if httpMetricsServer != nil {
		if err := httpMetricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP metrics server shutdown error", "error", err)
		}
	}
	if httpRestServer != nil {
		if err := httpRestServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP REST server shutdown error", "error", err)
		}
	}
	if grpcHealthServer != nil {
		grpcHealthServer.GracefulStop()
	}
	if grpcAPIServer != nil {
		grpcAPIServer.GracefulStop()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server group returned an error", "error", err)
		os.Exit(2)
	}
}

func startHealthServer(logger *slog.Logger, cfg Config, healthServer *health.Server) error {
	addr := fmt.Sprintf(":%d", cfg.HealthPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gRPC Health server failed to listen: %w", err)
	}

	grpcHealthServer = grpc.NewServer()
	healthpb.RegisterHealthServer(grpcHealthServer, healthServer)
	logger.Info("gRPC health server listening", "address", addr)
	return grpcHealthServer.Serve(lis)
}

func startMetricsServer(logger *slog.Logger, cfg Config) error {
	addr := fmt.Sprintf(":%d", cfg.HTTPMetricsPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	prometheus.MustRegister(grpcMetrics)

	httpMetricsServer = &http.Server{Addr: addr, Handler: mux}
	logger.Info("HTTP metrics server listening", "address", addr)

	if err := httpMetricsServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP metrics server failed: %w", err)
	}
	return nil
}

func startGRPCAPIServer(logger *slog.Logger, cfg Config, healthServer *health.Server, s *Server) error {
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gRPC API server failed to listen: %w", err)
	}

	grpcAPIServer = newGRPCServer(logger, s)

	healthServer.SetServingStatus(geolocationServiceName, healthpb.HealthCheckResponse_SERVING)
	logger.Info("gRPC API server listening", "address", addr)
	return grpcAPIServer.Serve(lis)
}

// newGRPCServer builds the API server with logging and metrics interceptors
// and server reflection.
func newGRPCServer(logger *slog.Logger, s *Server) *grpc.Server {
	lopts := []logging.Option{logging.WithLogOnEvents(logging.StartCall, logging.FinishCall)}
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			logging.UnaryServerInterceptor(
				InterceptorLogger(logger),
				lopts...),
			grpcMetrics.UnaryServerInterceptor(),
		),
	)
	RegisterGeolocationServer(srv, s)
	reflection.Register(srv)
	return srv
}

func startHTTPRestServer(logger *slog.Logger, cfg Config, s *Server) error {
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)

	httpRestServer = &http.Server{Addr: addr, Handler: s.Routes(logger)}
	logger.Info("HTTP REST server listening", "address", addr)

	if err := httpRestServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP REST server failed: %w", err)
	}
	return nil
}

// loadedSwath is the pair of rasters backing the engine.
type loadedSwath struct {
	locator *geoloc.PixelLocator
	finder  *geoloc.PixelFinder
	closers []func() error
}

func (l *loadedSwath) Close() {
	for _, c := range l.closers {
		if err := c(); err != nil {
			slog.Warn("failed to close raster", "error", err)
		}
	}
}

func setupSwath(ctx context.Context, cfg Config, logger *slog.Logger) (*loadedSwath, error) {
	logger.Info("initializing swath rasters", "lon_source", cfg.LonSource, "lat_source", cfg.LatSource)
	logger.Info("configuring tile cache", "max_size", cfg.CacheMaxSize, "items_to_prune", cfg.CacheItemsToPrune)

	l := &loadedSwath{}
	open := func(location string) (*geotiff.GeoTIFF, error) {
		g, closeFn, err := geotiff.OpenLocation(ctx, location, cfg.CacheMaxSize, cfg.CacheItemsToPrune)
		if err != nil {
			return nil, err
		}
		l.closers = append(l.closers, closeFn)
		g.Scale = cfg.SampleScale
		return g, nil
	}

	lon, err := open(cfg.LonSource)
	if err != nil {
		return nil, fmt.Errorf("longitude raster: %w", err)
	}
	lat, err := open(cfg.LatSource)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("latitude raster: %w", err)
	}

	opts := &geoloc.Options{Tolerance: cfg.PruneTolerance, Logger: logger}
	if l.locator, err = geoloc.NewPixelLocator(lon, lat, opts); err != nil {
		l.Close()
		return nil, err
	}
	if l.finder, err = geoloc.NewPixelFinder(lon, lat, opts); err != nil {
		l.Close()
		return nil, err
	}
	logger.Info("swath ready", "width", l.locator.Width(), "height", l.locator.Height())
	return l, nil
}

func createLogger(cfg Config, appName string) *slog.Logger {
	var programLevel slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		programLevel = slog.LevelDebug
	case "INFO":
		programLevel = slog.LevelInfo
	case "WARN":
		programLevel = slog.LevelWarn
	case "ERROR":
		programLevel = slog.LevelError
	default:
		programLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     programLevel,
		AddSource: programLevel <= slog.LevelDebug,
	}).WithAttrs([]slog.Attr{slog.String("app", appName)})
	return slog.New(handler)
}

func InterceptorLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}
