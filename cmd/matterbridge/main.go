// Command matterbridge is the Matterbridge process entrypoint: it parses
// CLI flags into a bridgecore.Config, wires every subsystem together, and
// blocks until an interrupt signal triggers the cleanup orchestrator's
// deterministic shutdown.
//
// Flag parsing, the startup log trail, and the signal-driven graceful
// shutdown follow api/cmd/main.go's main().
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/matterbridge-core/bridge/internal/bridgecore"
	"github.com/matterbridge-core/bridge/internal/cleanup"
	"github.com/matterbridge-core/bridge/internal/commissioning"
	"github.com/matterbridge-core/bridge/internal/controlplane"
	"github.com/matterbridge-core/bridge/internal/logger"
	"github.com/matterbridge-core/bridge/internal/matterengine"
	"github.com/matterbridge-core/bridge/internal/model"
	"github.com/matterbridge-core/bridge/internal/pluginmgr"
	"github.com/matterbridge-core/bridge/internal/registry"
	"github.com/matterbridge-core/bridge/internal/resmonitor"
	"github.com/matterbridge-core/bridge/internal/storage"

	_ "github.com/matterbridge-core/bridge/plugins/example"
)

func main() {
	cfg := bridgecore.DefaultConfig()

	bridgeFlag := flag.Bool("bridge", true, "run in bridge mode (single shared Matter node)")
	childbridgeFlag := flag.Bool("childbridge", false, "run in childbridge mode (one Matter node per plugin)")
	flag.StringVar(&cfg.HomeDir, "homedir", cfg.HomeDir, "storage home directory")
	flag.StringVar(&cfg.Profile, "profile", cfg.Profile, "storage profile suffix")
	flag.IntVar(&cfg.FrontendPort, "frontend", cfg.FrontendPort, "control-plane HTTP/websocket port")
	flag.IntVar(&cfg.Passcode, "passcode", cfg.Passcode, "Matter commissioning passcode")
	flag.IntVar(&cfg.Discriminator, "discriminator", cfg.Discriminator, "Matter commissioning discriminator")
	flag.StringVar(&cfg.MDNSInterface, "mdnsinterface", cfg.MDNSInterface, "network interface for mDNS advertising")
	flag.StringVar(&cfg.IPv4Address, "ipv4address", cfg.IPv4Address, "IPv4 address to advertise")
	flag.StringVar(&cfg.IPv6Address, "ipv6address", cfg.IPv6Address, "IPv6 address to advertise")
	flag.StringVar(&cfg.LoggerLevel, "logger", cfg.LoggerLevel, "log level")
	flag.StringVar(&cfg.MatterLoggerLevel, "matterlogger", cfg.MatterLoggerLevel, "Matter engine log level")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	flag.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable verbose console logging")
	flag.BoolVar(&cfg.SSL, "ssl", cfg.SSL, "accepted and recorded; the control plane is always served over plain HTTP")
	flag.BoolVar(&cfg.NoSudo, "nosudo", cfg.NoSudo, "do not attempt to regain elevated privileges")
	flag.BoolVar(&cfg.Docker, "docker", cfg.Docker, "running inside a container")
	flag.BoolVar(&cfg.NoVirtual, "novirtual", cfg.NoVirtual, "accepted and recorded; no component reads it")
	flag.BoolVar(&cfg.MemoryCheck, "memorycheck", cfg.MemoryCheck, "enable the resource monitor")
	flag.BoolVar(&cfg.Inspect, "inspect", cfg.Inspect, "accepted and recorded; no component reads it")
	flag.DurationVar(&cfg.SnapshotInterval, "snapshotinterval", cfg.SnapshotInterval, "accepted and recorded; no periodic storage backup is run")
	flag.Parse()

	if *childbridgeFlag {
		cfg.Mode = bridgecore.ModeChildbridge
	} else if *bridgeFlag {
		cfg.Mode = bridgecore.ModeBridge
	}

	logger.Initialize(cfg.LoggerLevel, cfg.Verbose || cfg.Debug)
	log := logger.GetLogger()
	log.Info().Str("mode", string(cfg.Mode)).Str("homedir", cfg.HomeDir).Msg("starting matterbridge")

	st, err := storage.New(cfg.HomeDir, *logger.Storage())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage adapter")
	}

	settings, err := st.Open("settings")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open settings storage context")
	}

	reg := registry.New(*logger.GetLogger(), nil)
	plugins := pluginmgr.New(*logger.Plugin(), reg)
	plugins.SetSpawner(pluginmgr.NewExecSpawner("npm"))
	inMemoryEngine := matterengine.NewInMemoryEngine()
	engineAdapter := matterengine.NewAdapter(inMemoryEngine)
	inMemoryEngine.SetPoster(engineAdapter.Post)
	cp := controlplane.New(*logger.ControlPlane(), cfg.ControlPlanePassword)
	commissioner := commissioning.New(*logger.Commissioning(), engineAdapter, nil)

	var resourceMonitor *resmonitor.Monitor
	if cfg.MemoryCheck {
		resourceMonitor, err = resmonitor.New(*logger.Resource(), int32(os.Getpid()), resmonitor.DefaultSampleInterval, resmonitor.DefaultRingSize, nil)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize resource monitor")
		}
		go resourceMonitor.Run()
	}

	controlplane.RegisterCoreHandlers(cp, plugins, reg)
	controlplane.RegisterDomainHandlers(cp, commissioner, plugins, settings)

	for _, name := range pluginmgr.Names() {
		if err := plugins.Add(name, model.AnyPlatform, nil); err != nil {
			log.Warn().Err(err).Str("plugin", name).Msg("failed to add registered plugin")
		}
	}

	core := bridgecore.New(cfg, *log, st, reg, plugins, engineAdapter, commissioner, cp, resourceMonitor)

	go commissioner.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := core.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("bridge core failed to start")
	}

	orchestrator := cleanup.New(*log, cp, plugins, reg, core, engineAdapter, st)
	for _, p := range plugins.List() {
		if p.Stage == model.StageConfigured {
			orchestrator.TrackPluginStart(p.Name)
		}
	}
	for _, n := range core.Nodes() {
		orchestrator.TrackNode(n.StoreID, n.Handle)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/ws", func(c *gin.Context) {
		cp.ServeWS(c.Writer, c.Request)
	})
	router.POST("/api/uploadpackage", func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer f.Close()

		manifest, err := pluginmgr.ValidatePackageManifest(f)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		err = plugins.Install(c.Request.Context(), manifest.Name, func(line string) {
			cp.BroadcastSnackbar(model.SeverityInfo, line)
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		cp.BroadcastRefresh(model.ChangedPlugins)
		c.JSON(http.StatusOK, gin.H{"name": manifest.Name, "version": manifest.Version})
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.FrontendPort),
		Handler: router,
	}

	go func() {
		log.Info().Int("port", cfg.FrontendPort).Msg("control plane listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("control-plane http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server forced to shutdown")
	}

	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("cleanup orchestrator reported errors")
	}

	log.Info().Msg("matterbridge shutdown complete")
}
