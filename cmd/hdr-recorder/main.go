package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edirooss/hdr-recorder/internal/config"
	"github.com/edirooss/hdr-recorder/internal/hardware/sim"
	"github.com/edirooss/hdr-recorder/internal/http/handler"
	mw "github.com/edirooss/hdr-recorder/internal/http/middleware"
	"github.com/edirooss/hdr-recorder/internal/media"
	"github.com/edirooss/hdr-recorder/internal/recording"
	"github.com/edirooss/hdr-recorder/internal/repo"
	"github.com/edirooss/hdr-recorder/internal/service"
	"github.com/edirooss/hdr-recorder/internal/stats"
	"github.com/edirooss/hdr-recorder/pkg/fmtt"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	dumpConfig := flag.Bool("dump-config", false, "print the effective config and exit")
	handleVersion()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		fmtt.PrintErrChain(os.Stderr, err)
		os.Exit(1)
	}
	if *dumpConfig {
		fmtt.Dump(os.Stdout, cfg)
		os.Exit(0)
	}

	log := buildLogger(cfg.Server.Dev)
	defer log.Sync()

	if err := run(log, cfg); err != nil {
		log.Error("exited with error", zap.Error(err))
		if cfg.Server.Dev {
			fmtt.PrintErrChain(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run(log *zap.Logger, cfg *config.Config) error {
	mainLog := log.Named("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Telemetry store (optional)
	var (
		statsPub  stats.Publisher
		statusPub service.StatusPublisher
		telemetry handler.Telemetry
	)
	if cfg.Redis.Enabled {
		rp := repo.NewRepository(log, cfg.Redis.Address, cfg.Redis.DB, cfg.Camera.DeviceID, cfg.Redis.TTL)
		defer rp.Close()
		statsPub, statusPub = rp.Telemetry, rp.Telemetry
		telemetry = service.NewTelemetrySummaryService(log, rp.Telemetry, service.TelemetrySummaryOptions{
			TTL:               250 * time.Millisecond,
			AllowStaleOnError: true,
		})
	}

	// Camera session
	sessionCfg, err := cfg.Camera.SessionConfig()
	if err != nil {
		return err
	}
	sink, err := media.NewDirStore(log, cfg.Recording.OutputDir)
	if err != nil {
		return err
	}
	provider := sim.NewProvider(log, sim.Options{
		BindDelay: cfg.Sim.BindDelay,
		Jitter:    cfg.Sim.Jitter,
		DropEvery: cfg.Sim.DropEvery,
	})
	orch := service.NewSessionOrchestrator(log, provider, sink, service.Options{
		Config:                sessionCfg,
		Focus:                 cfg.Camera.FocusMode(),
		DisableNoiseReduction: !cfg.Camera.NoiseReduction,
		Stats:                 stats.Options{PollInterval: cfg.Stats.PollInterval, Publisher: statsPub},
		Recording:             recording.Options{TickInterval: cfg.Recording.TickInterval},
		StatusPublisher:       statusPub,
		StatusInterval:        cfg.Redis.PublishInterval,
	})
	defer orch.Close()

	// A failed initial bind is surfaced as a notice; the server still starts
	// so the UI can report it and retry through a reconfigure.
	if err := orch.Start(ctx); err != nil {
		mainLog.Error("initial bind failed", zap.Error(err))
	}

	httpsrv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Address, cfg.Server.Port),
		Handler:           buildRouter(log, cfg, orch, telemetry),
		ReadHeaderTimeout: 2 * time.Second,  // kills header-drip Slowloris
		ReadTimeout:       10 * time.Second, // full request read (incl. body)
		WriteTimeout:      15 * time.Second, // a rebind is bounded by the ready timeout
		IdleTimeout:       60 * time.Second, // keep-alive cap
		MaxHeaderBytes:    1 << 20,          // 1MB cap
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(gctx)
	})
	g.Go(func() error {
		mainLog.Info("running HTTP server", zap.String("addr", httpsrv.Addr))
		if err := httpsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpsrv.Shutdown(sctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	mainLog.Info("server closed")
	return err
}

func buildRouter(log *zap.Logger, cfg *config.Config, orch *service.SessionOrchestrator, telemetry handler.Telemetry) *gin.Engine {
	if !cfg.Server.Dev {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = zap.NewStdLog(log.Named("gin")).Writer() // Configure Gin's logger to use Zap
	r := gin.New()

	// Apply Gin middlewares
	{
		r.Use(gin.Recovery()) // Recovery first (outermost)
		r.Use(mw.RequestID()) // early in the chain so it's available everywhere

		if cfg.Server.Dev { // Enable CORS for a local UI dev server
			r.Use(cors.New(cors.Config{
				AllowOrigins:  cfg.Server.Origins,
				AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
				AllowHeaders:  []string{"X-Request-ID", "Content-Type"},
				ExposeHeaders: []string{"X-Request-ID", "X-Total-Count", "X-Cache", "X-Summary-Generated-At"},
				MaxAge:        12 * time.Hour,
			}))
		} else { // Behind a TLS-terminating proxy
			r.SetTrustedProxies([]string{"127.0.0.1"})
			r.Use(secure.New(secure.Config{
				FrameDeny:          true,
				ContentTypeNosniff: true,
				SSLProxyHeaders: map[string]string{
					"X-Forwarded-Proto": "https",
				},
			}))
		}

		// polled endpoints log at Debug
		r.Use(mw.AccessLog(log.Named("http"), "/api/state", "/api/stats", "/api/notices", "/api/ping"))
	}

	// Register route handlers
	{
		r.GET("/api/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })

		h := handler.NewSessionHandler(log, orch, telemetry)
		r.GET("/api/state", h.GetState)
		r.GET("/api/stats", h.GetStats)
		r.GET("/api/notices", h.GetNotices)
		r.GET("/api/telemetry", h.GetTelemetry)

		mutations := r.Group("", mw.LimitConcurrentRequests(4))
		mutations.POST("/api/events", h.PostEvent)
		mutations.PUT("/api/config", h.PutConfig)
		mutations.POST("/api/rotation", h.PostRotation)
	}

	return r
}

// handleVersion parses flags and prints build metadata and exits when
// -v/--version is provided.
func handleVersion() {
	v := flag.Bool("v", false, "print version and exit")
	flag.BoolVar(v, "version", false, "print version and exit")
	flag.Parse()

	if *v {
		fmt.Printf("hdr-recorder %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildDate)
		os.Exit(0)
	}
}

func buildLogger(dev bool) *zap.Logger {
	if !dev {
		return zap.Must(zap.NewProductionConfig().Build())
	}
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level.SetLevel(zap.DebugLevel)
	return zap.Must(logConfig.Build())
}
