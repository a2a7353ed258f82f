package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dougsko/rdsmpx/pkg/config"
	"github.com/dougsko/rdsmpx/pkg/engine"
	"github.com/dougsko/rdsmpx/pkg/hardware"
	"github.com/dougsko/rdsmpx/pkg/logging"
)

var (
	configPath = flag.String("config", "config.yaml", "Configuration file path")
	autostart  = flag.Bool("autostart", false, "Start streaming the last configuration at launch")
	version    = flag.Bool("version", false, "Show version information")
)

const Build = "development"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("mpxd version %s (%s), backends: %v\n", engine.Version, Build, hardware.AvailableBackends())
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logging.InitGlobalLogger(cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseGlobalLogger()

	logging.Infof("main", "mpxd version %s starting...", engine.Version)
	logging.Infof("main", "Station: PI %s, PS %q", cfg.Station.PI, cfg.Station.PS)
	logging.Infof("main", "Output: %s backend, device %q, %d Hz", cfg.Audio.Backend, cfg.Audio.OutputDevice, cfg.MPX.SampleRate)
	logging.Infof("main", "Web interface: http://%s:%d", cfg.Web.BindAddress, cfg.Web.Port)

	daemon, err := NewMPXDaemon(cfg)
	if err != nil {
		logging.Errorf("main", "Failed to create daemon: %v", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := daemon.Start(); err != nil {
		logging.Errorf("main", "Failed to start daemon: %v", err)
		os.Exit(1)
	}

	logging.Info("main", "mpxd started successfully")

	if *autostart {
		if _, err := daemon.socketClient.Start(nil); err != nil {
			logging.Errorf("main", "Autostart failed: %v", err)
		}
	}

	<-sigChan
	logging.Info("main", "Shutting down...")

	if err := daemon.Stop(); err != nil {
		logging.Errorf("main", "Error during shutdown: %v", err)
	}

	logging.Info("main", "mpxd stopped")
}
