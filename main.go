package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sasta-kro/tmpool/config"
	"github.com/sasta-kro/tmpool/db"
	"github.com/sasta-kro/tmpool/docker"
	"github.com/sasta-kro/tmpool/handlers"
	"github.com/sasta-kro/tmpool/pool"
	"github.com/sasta-kro/tmpool/proxy"
)

func main() {
	appConfig := &config.AppConfig{}

	rootCommand := &cobra.Command{
		Use:   "tmpool",
		Short: "Pre-launching container pool and router for transient notebook servers",
		Long: "tmpool keeps a pool of ready notebook-server containers, registers a " +
			"route for each in an external configurable proxy, and hands one " +
			"container to every arriving user via an HTTP redirect.",
		SilenceUsage: true,
		RunE: func(command *cobra.Command, args []string) error {
			return run(appConfig)
		},
	}
	config.RegisterFlags(rootCommand, appConfig)

	if err := rootCommand.Execute(); err != nil {
		// cobra already printed the error; the exit code is the contract:
		// non-zero on configuration error or unrecoverable daemon error.
		os.Exit(1)
	}
}

func run(appConfig *config.AppConfig) error {
	// a .env file is a local development convenience; in production the
	// environment comes from the process manager and the file is absent.
	if err := godotenv.Load(); err == nil {
		log.Println("loaded environment from .env")
	}

	if err := appConfig.LoadEnvironment(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := appConfig.NewLogger()
	logger.Info("tmpool control plane starting",
		"pool_name", appConfig.PoolName,
		"pool_size", appConfig.PoolSize,
		"image", appConfig.Image,
		"proxy_endpoint", appConfig.ProxyEndpoint,
	)

	// --- gateways ---

	dockerGateway, err := docker.NewGateway(logger, docker.Spec{
		Image:           appConfig.Image,
		Command:         appConfig.Command,
		ContainerIP:     appConfig.ContainerIP,
		ContainerPort:   appConfig.ContainerPort,
		User:            appConfig.ContainerUser,
		MemLimit:        appConfig.MemLimit,
		CPUShares:       appConfig.CPUShares,
		CPUQuota:        appConfig.CPUQuota,
		HostNetwork:     appConfig.HostNetwork,
		DockerNetwork:   appConfig.DockerNetwork,
		HostDirectories: appConfig.HostDirectories,
		ExtraHosts:      appConfig.ExtraHosts,
		Version:         appConfig.DockerVersion,
		AssertHostname:  appConfig.AssertHostname,
	}, appConfig.MaxDockWorkers)
	if err != nil {
		// if the daemon is unreachable the pool cannot function; fail fast
		// with a non-zero exit instead of serving an empty pool forever.
		return fmt.Errorf("failed to connect to docker daemon: %w", err)
	}
	defer dockerGateway.Close()

	proxyClient := proxy.NewClient(appConfig.ProxyEndpoint, appConfig.ProxyToken, logger)

	// --- event journal ---

	database, err := db.OpenDatabase(appConfig.EventsDBPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open event journal: %w", err)
	}
	defer database.CloseDatabase()

	// --- pool ---

	registry := prometheus.NewRegistry()

	spawnPool := pool.New(
		pool.Settings{
			Capacity:   appConfig.PoolSize,
			PoolName:   appConfig.PoolName,
			MaxIdle:    time.Duration(appConfig.CullTimeout) * time.Second,
			MaxAge:     time.Duration(appConfig.CullMax) * time.Second,
			UserLength: appConfig.UserLength,
			UseTokens:  appConfig.UseTokens,
		},
		dockerGateway,
		proxyClient,
		database,
		logger,
		registry,
	)

	// --- static asset extraction ---

	staticDir := ""
	if appConfig.StaticFiles != "" {
		staticDir = filepath.Join(".", "static")
		extractContext, cancelExtract := context.WithTimeout(context.Background(), 2*time.Minute)
		if err := dockerGateway.ExtractStatic(extractContext, appConfig.StaticFiles, staticDir); err != nil {
			// static assets are cosmetic; a failed extraction costs the
			// assets, not the pool.
			logger.Error("static file extraction failed", "error", err)
			staticDir = ""
		}
		cancelExtract()
	}

	// --- startup reconcile ---

	// a previous process may have left containers and routes behind; wipe
	// them, then run one heartbeat so the pool is at capacity before the
	// first user arrives.
	startupContext, cancelStartup := context.WithTimeout(context.Background(), 5*time.Minute)
	spawnPool.Cleanout(startupContext)
	spawnPool.Heartbeat(startupContext)
	cancelStartup()

	// --- heartbeat loop ---

	heartbeatContext, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()

	cullPeriod := time.Duration(appConfig.CullPeriod) * time.Second
	logger.Info("culling containers",
		"idle_timeout_s", appConfig.CullTimeout,
		"max_age_s", appConfig.CullMax,
		"every_s", appConfig.CullPeriod,
	)
	go spawnPool.Run(heartbeatContext, cullPeriod)

	// --- HTTP servers ---

	routerDependencies := handlers.RouterDependencies{
		Logger:    logger,
		Config:    appConfig,
		Pool:      spawnPool,
		Events:    database,
		Registry:  registry,
		StaticDir: staticDir,
	}

	// http.ListenAndServe defaults to infinite timeouts; instantiating the
	// servers explicitly replaces those zero values with finite deadlines
	// so slow clients cannot hold connections open forever.
	publicServer := &http.Server{
		Addr:         net.JoinHostPort(appConfig.IP, strconv.Itoa(appConfig.Port)),
		Handler:      handlers.CreatePublicRouter(routerDependencies),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	adminServer := &http.Server{
		Addr:         net.JoinHostPort(appConfig.AdminIP, strconv.Itoa(appConfig.AdminPort)),
		Handler:      handlers.CreateAdminRouter(routerDependencies),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// the servers run in goroutines so the main goroutine can block on the
	// signal channel; a fatal listen error is fed back through the same
	// select that watches for signals.
	serverErrors := make(chan error, 2)

	go func() {
		logger.Info("public server listening", "addr", publicServer.Addr)
		if err := publicServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("public server failed: %w", err)
		}
	}()
	go func() {
		logger.Info("admin server listening", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("admin server failed: %w", err)
		}
	}()

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("startup complete, serving", "port", appConfig.Port, "admin_port", appConfig.AdminPort)

	select {
	case sig := <-signalChannel:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErrors:
		logger.Error("server failed, shutting down", "error", err)
		stopHeartbeat()
		spawnPool.DrainBirths()
		return err
	}

	// --- graceful shutdown ---
	// order matters: stop the heartbeat first so nothing new is born or
	// culled, let in-flight births settle, stop accepting requests, and
	// only then wipe the containers this process owns.

	stopHeartbeat()
	spawnPool.DrainBirths()

	shutdownContext, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := publicServer.Shutdown(shutdownContext); err != nil {
		logger.Error("public server shutdown failed", "error", err)
	}
	if err := adminServer.Shutdown(shutdownContext); err != nil {
		logger.Error("admin server shutdown failed", "error", err)
	}

	cleanoutContext, cancelCleanout := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelCleanout()
	spawnPool.Cleanout(cleanoutContext)

	logger.Info("shut down cleanly")
	return nil
}
