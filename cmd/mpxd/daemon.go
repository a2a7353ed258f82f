package main

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dougsko/rdsmpx/pkg/client"
	"github.com/dougsko/rdsmpx/pkg/config"
	"github.com/dougsko/rdsmpx/pkg/engine"
	"github.com/dougsko/rdsmpx/pkg/logging"
)

//go:embed web/*.html
var webFiles embed.FS

// startTimeout covers WAV decoding and resampling on the daemon side
const startTimeout = 45 * time.Second

// MPXDaemon runs the core engine behind its Unix socket and serves the web
// interface on top of it
type MPXDaemon struct {
	config *config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	coreEngine   *engine.CoreEngine
	socketClient *client.SocketClient
	startClient  *client.SocketClient
	webServer    *http.Server

	socketPath string
}

// NewMPXDaemon creates a new daemon instance
func NewMPXDaemon(cfg *config.Config) (*MPXDaemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	socketPath := cfg.API.UnixSocket
	if socketPath == "" {
		socketPath = "/tmp/rdsmpx.sock"
	}

	startClient := client.NewSocketClient(socketPath)
	startClient.SetTimeout(startTimeout)

	daemon := &MPXDaemon{
		config:       cfg,
		ctx:          ctx,
		cancel:       cancel,
		socketPath:   socketPath,
		socketClient: client.NewSocketClient(socketPath),
		startClient:  startClient,
		coreEngine:   engine.NewCoreEngine(cfg, socketPath),
	}

	if err := daemon.setupWebServer(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to setup web server: %w", err)
	}

	return daemon, nil
}

// Start starts the daemon
func (d *MPXDaemon) Start() error {
	logging.Info("daemon", "Starting mpxd daemon...")

	if err := d.coreEngine.Start(); err != nil {
		return fmt.Errorf("failed to start core engine: %w", err)
	}

	if !d.socketClient.IsConnected() {
		d.coreEngine.Stop()
		return fmt.Errorf("failed to connect to core engine socket")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		logging.Infof("daemon", "Starting web server on %s", d.webServer.Addr)
		if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("daemon", "Web server error: %v", err)
		}
	}()

	d.wg.Add(1)
	go d.watchdog()

	return nil
}

// Stop stops the daemon gracefully
func (d *MPXDaemon) Stop() error {
	logging.Info("daemon", "Stopping daemon...")

	d.cancel()

	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			logging.Warnf("daemon", "Web server shutdown error: %v", err)
		}
	}

	var err error
	if d.coreEngine != nil {
		if err = d.coreEngine.Stop(); err != nil {
			logging.Warnf("daemon", "Core engine shutdown error: %v", err)
		}
	}

	d.wg.Wait()

	logging.Info("daemon", "Daemon stopped")
	return err
}

// setupWebServer initializes the web server and routes
func (d *MPXDaemon) setupWebServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = 32 << 20

	tmpl, err := template.ParseFS(webFiles, "web/*.html")
	if err != nil {
		return err
	}
	router.SetHTMLTemplate(tmpl)

	router.GET("/", d.handleHome)
	router.GET("/ws/monitor", d.handleMonitorWebSocket)

	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.GET("/devices", d.handleGetDevices)
		api.GET("/config", d.handleGetConfig)
		api.GET("/sessions", d.handleGetSessions)
		api.GET("/sessions/stats", d.handleGetSessionStats)
		api.GET("/monitor/stats", d.handleGetMonitorStats)
		api.POST("/stream/start", d.handleStartStream)
		api.POST("/stream/stop", d.handleStopStream)
	}

	d.webServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port),
		Handler: router,
	}

	return nil
}

// watchdog logs underruns and degraded sessions as they appear
func (d *MPXDaemon) watchdog() {
	defer d.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var lastSession, lastUnderruns int64
	var warnedDegraded bool
	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			report, err := d.socketClient.GetStatus()
			if err != nil {
				logging.Warnf("watchdog", "Failed to get status: %v", err)
				continue
			}
			st := report.Stream
			if !st.Running {
				continue
			}
			if st.SessionID != lastSession {
				lastSession, lastUnderruns, warnedDegraded = st.SessionID, 0, false
			}
			if st.Underruns > lastUnderruns {
				logging.Warnf("watchdog", "Session %d: %d new underruns (%d/%d buffered)",
					st.SessionID, st.Underruns-lastUnderruns, st.Buffered, st.BufferCapacity)
				lastUnderruns = st.Underruns
			}
			if st.Degraded && !warnedDegraded {
				logging.Errorf("watchdog", "Session %d degraded: %s", st.SessionID, st.LastError)
				warnedDegraded = true
			}
		}
	}
}
