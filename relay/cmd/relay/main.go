package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/deploywatch/pkg/config"
	"github.com/splax/deploywatch/pkg/logger"
	"github.com/splax/deploywatch/pkg/synthetic"
	"github.com/splax/deploywatch/relay/internal/awscli"
	"github.com/splax/deploywatch/relay/internal/fanout"
	httpx "github.com/splax/deploywatch/relay/internal/http"
	"github.com/splax/deploywatch/relay/internal/service/broadcast"
	"github.com/splax/deploywatch/relay/internal/service/deployment"
	"github.com/splax/deploywatch/relay/internal/service/monitor"
	"github.com/splax/deploywatch/relay/internal/ws"
)

var _ monitor.Source = (*awscli.Source)(nil)

func main() {
	cfg := config.LoadRelayConfig()
	log := logger.NewWithOptions("relay", logger.Options{
		Level: logger.ParseLevel(cfg.LogLevel),
		File:  cfg.LogFile,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := httpx.NewMetrics(prometheus.DefaultRegisterer)

	var live monitor.Source
	if strings.TrimSpace(cfg.ECSClusterName) != "" {
		src, err := awscli.New(awscli.Config{
			Region:            cfg.AWSRegion,
			CLIPath:           cfg.AWSCLIPath,
			Timeout:           cfg.AWSCLITimeout,
			ClusterName:       cfg.ECSClusterName,
			ServiceBlue:       cfg.ECSServiceBlue,
			ServiceGreen:      cfg.ECSServiceGreen,
			LoadBalancerArn:   cfg.ALBArn,
			TargetGroupBlue:   cfg.TargetGroupBlueArn,
			TargetGroupGreen:  cfg.TargetGroupGreenArn,
			PipelineName:      cfg.CodePipelineName,
			BuildProject:      cfg.CodeBuildProjectName,
			DeployApplication: cfg.CodeDeployApplication,
			DeployGroup:       cfg.CodeDeployGroup,
			LogGroupName:      cfg.LogGroupName,
			MetricPeriod:      cfg.MetricPeriod,
			CacheTTL:          cfg.SourceCacheTTL,
		}, log, awscli.WithObserver(metrics.ObserveCLI))
		if err != nil {
			log.Error("aws source unavailable, serving synthetic data", "error", err)
		} else {
			defer src.Close()
			live = src
		}
	} else {
		log.Info("ECS_CLUSTER_NAME not set, serving synthetic data")
	}

	mock := monitor.NewSyntheticSource(synthetic.NewRandom(), monitor.ResourceNames{
		Pipeline:          cfg.CodePipelineName,
		BuildProject:      cfg.CodeBuildProjectName,
		DeployApplication: cfg.CodeDeployApplication,
		DeployGroup:       cfg.CodeDeployGroup,
	})

	hub := ws.NewHub()
	defer hub.Close()

	checks := map[string]httpx.HealthCheck{}
	var pub fanout.Publisher = fanout.NewLocal(hub)
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisPub, err := fanout.NewRedis(ctx, fanout.RedisOptions{
			Addr:     addr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.BroadcastChannel,
		}, hub, log)
		if err != nil {
			log.Warn("redis fanout unavailable, broadcasting locally", "error", err)
		} else {
			pub = redisPub
			checks["redis"] = redisPub.Ping
		}
	}
	defer pub.Close()

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	if cfg.BroadcastEvery > 0 {
		var flat broadcast.Source = mock
		if live != nil {
			flat = live
		}
		broadcaster, err := broadcast.New(flat, pub, cfg.BroadcastEvery, log)
		if err != nil {
			log.Error("failed to configure broadcaster", "error", err)
			os.Exit(1)
		}
		if err := broadcaster.Start(ctx); err != nil {
			log.Error("failed to start broadcaster", "error", err)
			os.Exit(1)
		}
		defer broadcaster.Stop()
	}

	router := httpx.NewRouter(httpx.Config{
		Hub:  hub,
		Live: live,
		Mock: mock,
		Monitor: monitor.Options{
			MetricsEvery: cfg.MetricsEvery,
			XRayEvery:    cfg.XRayEvery,
			StartInMock:  cfg.StartInMock,
		},
		Deployments:  deployment.New(pub, log),
		Limiter:      limiter,
		Metrics:      metrics,
		Checks:       checks,
		SSEHeartbeat: cfg.SSEHeartbeat,
	}, log)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("relay server starting", "addr", cfg.Addr, "source", sourceMode(live))
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("relay server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func sourceMode(live monitor.Source) string {
	if live == nil {
		return "mock"
	}
	return "live"
}
