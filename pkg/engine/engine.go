package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dougsko/rdsmpx/pkg/audio"
	"github.com/dougsko/rdsmpx/pkg/config"
	"github.com/dougsko/rdsmpx/pkg/hardware"
	"github.com/dougsko/rdsmpx/pkg/logging"
	"github.com/dougsko/rdsmpx/pkg/protocol"
	"github.com/dougsko/rdsmpx/pkg/storage"
	"github.com/dougsko/rdsmpx/pkg/stream"
)

// Version is reported in STATUS replies
const Version = "0.1.0-dev"

// startTimeout bounds source decoding and logo loading of a start request
const startTimeout = 30 * time.Second

// ErrNotRunning is returned by operations that need a started engine
var ErrNotRunning = errors.New("core engine not started")

// CoreEngine owns the stream engine and everything around it: the output
// hardware, the monitor, the session history and the control socket.
type CoreEngine struct {
	config     *config.Config
	socketPath string
	listener   net.Listener
	running    bool
	mutex      sync.RWMutex
	startTime  time.Time
	wg         sync.WaitGroup

	hardwareManager *hardware.HardwareManager
	audioMonitor    *audio.Monitor
	sessionStore    *storage.SessionStore
	streamEngine    *stream.Engine

	// stream session id -> history row id
	recordMutex sync.Mutex
	records     map[int64]int64
}

// NewCoreEngine creates a new core engine
func NewCoreEngine(cfg *config.Config, socketPath string) *CoreEngine {
	hardwareConfig := hardware.HardwareConfig{
		Backend:    cfg.Audio.Backend,
		EnableGPIO: cfg.Hardware.EnableGPIO,
		OnAirPin:   cfg.Hardware.OnAirPin,
	}

	return &CoreEngine{
		config:          cfg,
		socketPath:      socketPath,
		startTime:       time.Now(),
		hardwareManager: hardware.NewHardwareManager(hardwareConfig),
		audioMonitor:    audio.NewMonitor(cfg.MPX.SampleRate, cfg.Audio.MonitorFFT),
		records:         make(map[int64]int64),
	}
}

// Start initializes hardware and storage and starts the Unix socket server
func (e *CoreEngine) Start() error {
	if err := e.hardwareManager.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize hardware manager: %w", err)
	}

	store, err := storage.NewSessionStore(e.config.Storage.DatabasePath, e.config.Storage.MaxSessions)
	if err != nil {
		e.hardwareManager.Close()
		return fmt.Errorf("failed to open session store: %w", err)
	}
	if n, err := store.CloseRunning(); err != nil {
		logging.Warnf("engine", "Failed to close stale sessions: %v", err)
	} else if n > 0 {
		logging.Infof("engine", "Marked %d sessions from a previous run as stopped", n)
	}
	if err := store.CleanupOldSessions(); err != nil {
		logging.Warnf("engine", "Failed to trim session history: %v", err)
	}

	e.sessionStore = store
	e.streamEngine = stream.NewEngine(e.hardwareManager.Backend(), e.audioMonitor)
	e.streamEngine.SetEventHandler(e.handleStreamEvent)

	// Remove existing socket file
	os.Remove(e.socketPath)

	listener, err := net.Listen("unix", e.socketPath)
	if err != nil {
		store.Close()
		e.hardwareManager.Close()
		return fmt.Errorf("failed to create Unix socket: %w", err)
	}
	if err := os.Chmod(e.socketPath, 0660); err != nil {
		logging.Warnf("engine", "Failed to set socket permissions: %v", err)
	}

	e.mutex.Lock()
	e.listener = listener
	e.running = true
	e.startTime = time.Now()
	e.mutex.Unlock()

	logging.Infof("engine", "Core engine listening on %s", e.socketPath)

	e.wg.Add(1)
	go e.acceptConnections()

	return nil
}

// Stop ends any running session and releases everything Start acquired
func (e *CoreEngine) Stop() error {
	e.mutex.Lock()
	if !e.running {
		e.mutex.Unlock()
		return nil
	}
	e.running = false
	listener := e.listener
	e.mutex.Unlock()

	var errs []error
	if err := e.streamEngine.Stop(); err != nil {
		errs = append(errs, err)
	}

	listener.Close()
	e.wg.Wait()
	os.Remove(e.socketPath)

	if err := e.sessionStore.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.hardwareManager.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *CoreEngine) isRunning() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.running
}

// acceptConnections accepts and handles socket connections
func (e *CoreEngine) acceptConnections() {
	defer e.wg.Done()
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if !e.isRunning() {
				return
			}
			logging.Warnf("engine", "Socket accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		go e.handleConnection(conn)
	}
}

// handleConnection serves one command per line until QUIT or EOF
func (e *CoreEngine) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			response := protocol.NewErrorResponse(fmt.Sprintf("parse error: %v", err))
			conn.Write([]byte(response.String() + "\n"))
			continue
		}

		response := e.HandleCommand(cmd)
		conn.Write([]byte(response.String() + "\n"))

		if cmd.Type == protocol.CmdQuit {
			break
		}
	}
}

// HandleCommand executes one parsed command
func (e *CoreEngine) HandleCommand(cmd *protocol.Command) *protocol.Response {
	switch cmd.Type {
	case protocol.CmdStatus:
		report := e.Status()
		data := map[string]interface{}{
			"status":        report.Stream,
			"on_air":        report.OnAir,
			"daemon_uptime": report.Uptime,
			"version":       report.Version,
		}
		if report.Monitor != nil {
			data["monitor"] = report.Monitor
		}
		return protocol.NewSuccessResponse(data)

	case protocol.CmdStart:
		var req *protocol.StartRequest
		if r, ok := cmd.Args["request"].(protocol.StartRequest); ok {
			req = &r
		}
		ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()
		status, err := e.StartStream(ctx, req)
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{"status": status})

	case protocol.CmdStop:
		if err := e.StopStream(); err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{"status": e.streamEngine.Status()})

	case protocol.CmdDevices:
		devices, err := e.Devices()
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		data := map[string]interface{}{
			"backend": e.streamEngine.Backend().Name(),
			"devices": devices,
			"count":   len(devices),
		}
		if inputs, err := e.streamEngine.InputDevices(); err == nil {
			data["inputs"] = inputs
		}
		return protocol.NewSuccessResponse(data)

	case protocol.CmdConfig:
		which, _ := cmd.Args["which"].(string)
		cfg, err := e.Config(which)
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{"config": cfg})

	case protocol.CmdSessions:
		limit := 20
		if s, ok := cmd.Args["limit"].(string); ok && s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return protocol.NewErrorResponse(fmt.Sprintf("invalid limit %q", s))
			}
			limit = n
		}
		sessions, err := e.Sessions(limit)
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"sessions": sessions,
			"count":    len(sessions),
		})

	case protocol.CmdPing:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"pong": time.Now().Unix(),
		})

	case protocol.CmdQuit:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"message": "goodbye",
		})

	default:
		return protocol.NewErrorResponse(fmt.Sprintf("unknown command: %s", cmd.Type))
	}
}

// Status reports the stream engine, the monitor while a session runs and
// the on-air indicator
func (e *CoreEngine) Status() protocol.StatusReport {
	report := protocol.StatusReport{
		OnAir:   e.hardwareManager.OnAir(),
		Version: Version,
	}
	e.mutex.RLock()
	report.Uptime = time.Since(e.startTime).Seconds()
	e.mutex.RUnlock()

	if e.streamEngine == nil {
		return report
	}
	report.Stream = e.streamEngine.Status()
	if report.Stream.Running {
		snap := e.audioMonitor.GetSnapshot()
		report.Monitor = &snap
	}
	return report
}

// baseConfig is what a bare START plays: the last started configuration,
// or the one built from the config file
func (e *CoreEngine) baseConfig() (stream.Config, error) {
	if e.sessionStore != nil {
		last, err := e.sessionStore.LastConfig()
		if err != nil {
			logging.Warnf("engine", "Failed to load last configuration: %v", err)
		} else if last != nil {
			return *last, nil
		}
	}
	return e.config.StreamConfig()
}

// Config returns the configuration a bare START would use, or with which
// set to "last" the last persisted one
func (e *CoreEngine) Config(which string) (stream.Config, error) {
	switch which {
	case "", "next":
		return e.baseConfig()
	case "last":
		if e.sessionStore == nil {
			return stream.Config{}, ErrNotRunning
		}
		last, err := e.sessionStore.LastConfig()
		if err != nil {
			return stream.Config{}, err
		}
		if last == nil {
			return stream.Config{}, fmt.Errorf("no session has been started yet")
		}
		return *last, nil
	case "file":
		return e.config.StreamConfig()
	default:
		return stream.Config{}, fmt.Errorf("unknown configuration %q, want next, last or file", which)
	}
}

// StartStream starts a session from req applied over the base
// configuration. A running session is replaced.
func (e *CoreEngine) StartStream(ctx context.Context, req *protocol.StartRequest) (stream.Status, error) {
	if !e.isRunning() {
		return stream.Status{}, ErrNotRunning
	}

	cfg, err := e.baseConfig()
	if err != nil {
		return stream.Status{}, err
	}
	if req != nil {
		if cfg, err = req.Apply(cfg); err != nil {
			return stream.Status{}, err
		}
	}

	if _, err := e.streamEngine.Start(ctx, cfg); err != nil {
		logging.Errorf("engine", "Start failed: %v", err)
		if _, serr := e.sessionStore.RecordFailure(cfg, err); serr != nil {
			logging.Warnf("engine", "Failed to record failed start: %v", serr)
		}
		return stream.Status{}, err
	}

	if err := e.sessionStore.SaveLastConfig(cfg); err != nil {
		logging.Warnf("engine", "Failed to persist configuration: %v", err)
	}
	return e.streamEngine.Status(), nil
}

// StopStream ends the running session, if any
func (e *CoreEngine) StopStream() error {
	if !e.isRunning() {
		return ErrNotRunning
	}
	return e.streamEngine.Stop()
}

// Devices lists the output devices of the active backend
func (e *CoreEngine) Devices() ([]hardware.DeviceInfo, error) {
	if !e.isRunning() {
		return nil, ErrNotRunning
	}
	return e.streamEngine.Devices()
}

// Sessions returns the most recent history rows
func (e *CoreEngine) Sessions(limit int) ([]storage.SessionRecord, error) {
	if !e.isRunning() {
		return nil, ErrNotRunning
	}
	return e.sessionStore.GetRecentSessions(limit)
}

// SessionStats returns the history totals
func (e *CoreEngine) SessionStats() (*storage.SessionStats, error) {
	if !e.isRunning() {
		return nil, ErrNotRunning
	}
	return e.sessionStore.GetSessionStats()
}

// GetAudioMonitor returns the multiplex monitor
func (e *CoreEngine) GetAudioMonitor() *audio.Monitor {
	return e.audioMonitor
}

// UploadDir returns where uploaded audio and logo files are kept
func (e *CoreEngine) UploadDir() string {
	return e.config.Storage.UploadDir
}

// handleStreamEvent mirrors session transitions into the history and the
// on-air indicator. It runs with the stream engine locked and must not
// call back into it.
func (e *CoreEngine) handleStreamEvent(ev stream.Event) {
	s := ev.Session

	switch ev.Kind {
	case stream.EventStarted:
		id, err := e.sessionStore.RecordStart(storage.SessionRecord{
			StartedAt:  s.StartedAt,
			Backend:    e.hardwareManager.Backend().Name(),
			Device:     s.Device.Name,
			SampleRate: s.Format.SampleRate,
			Format:     s.Format.Format.String(),
			Config:     s.Config,
		})
		if err != nil {
			logging.Warnf("engine", "Failed to record session start: %v", err)
		} else {
			e.recordMutex.Lock()
			e.records[s.ID] = id
			e.recordMutex.Unlock()
		}
		if err := e.hardwareManager.SetOnAir(true); err != nil {
			logging.Warnf("engine", "Failed to set on-air indicator: %v", err)
		}

	case stream.EventDegraded:
		msg := "device error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		if id, ok := e.recordID(s.ID, false); ok {
			if err := e.sessionStore.MarkDegraded(id, msg); err != nil {
				logging.Warnf("engine", "Failed to record degraded session: %v", err)
			}
		}

	case stream.EventStopped:
		if id, ok := e.recordID(s.ID, true); ok {
			if err := e.sessionStore.RecordStop(id, time.Now(), s.Produced(), s.Underruns()); err != nil {
				logging.Warnf("engine", "Failed to record session stop: %v", err)
			}
		}
		if err := e.hardwareManager.SetOnAir(false); err != nil {
			logging.Warnf("engine", "Failed to clear on-air indicator: %v", err)
		}
	}
}

func (e *CoreEngine) recordID(sessionID int64, forget bool) (int64, bool) {
	e.recordMutex.Lock()
	defer e.recordMutex.Unlock()
	id, ok := e.records[sessionID]
	if forget {
		delete(e.records, sessionID)
	}
	return id, ok
}
