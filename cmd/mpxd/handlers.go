package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v2"

	"github.com/dougsko/rdsmpx/pkg/engine"
	"github.com/dougsko/rdsmpx/pkg/logging"
	"github.com/dougsko/rdsmpx/pkg/protocol"
)

// handleHome serves the main web interface
func (d *MPXDaemon) handleHome(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"pi":      d.config.Station.PI,
		"ps":      d.config.Station.PS,
		"version": engine.Version,
	})
}

// handleGetStatus returns daemon status via socket
func (d *MPXDaemon) handleGetStatus(c *gin.Context) {
	report, err := d.socketClient.GetStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// handleGetDevices lists output devices via socket
func (d *MPXDaemon) handleGetDevices(c *gin.Context) {
	devices, err := d.socketClient.Devices()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetConfig returns the file configuration and the stream
// configuration the next start would use
func (d *MPXDaemon) handleGetConfig(c *gin.Context) {
	// Round trip through YAML so field names match the config file
	yamlData, err := yaml.Marshal(d.config)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to marshal config: %v", err),
		})
		return
	}

	var yamlConfig interface{}
	if err := yaml.Unmarshal(yamlData, &yamlConfig); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to unmarshal config: %v", err),
		})
		return
	}

	next, err := d.socketClient.Config("")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"file": convertYamlToJson(yamlConfig),
		"next": next,
	})
}

// convertYamlToJson converts YAML map[interface{}]interface{} to JSON-compatible map[string]interface{}
func convertYamlToJson(i interface{}) interface{} {
	switch x := i.(type) {
	case map[interface{}]interface{}:
		m2 := map[string]interface{}{}
		for k, v := range x {
			m2[fmt.Sprint(k)] = convertYamlToJson(v)
		}
		return m2
	case []interface{}:
		for i, v := range x {
			x[i] = convertYamlToJson(v)
		}
	}
	return i
}

// handleGetSessions returns recent sessions via socket
func (d *MPXDaemon) handleGetSessions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	sessions, err := d.socketClient.Sessions(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleGetSessionStats returns the session history totals
func (d *MPXDaemon) handleGetSessionStats(c *gin.Context) {
	stats, err := d.coreEngine.SessionStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// handleGetMonitorStats returns multiplex monitor statistics
func (d *MPXDaemon) handleGetMonitorStats(c *gin.Context) {
	monitor := d.coreEngine.GetAudioMonitor()

	c.JSON(http.StatusOK, gin.H{
		"statistics": monitor.GetStatistics(),
		"levels":     monitor.GetCurrentLevels(),
		"bands":      monitor.GetBandLevels(),
	})
}

// handleStartStream starts a session from the submitted form. Uploaded
// audio and logo files are stored in the upload directory first.
func (d *MPXDaemon) handleStartStream(c *gin.Context) {
	req, err := d.startRequestFromForm(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := d.startClient.Start(req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "started",
		"session": status,
	})
}

// handleStopStream stops the running session via socket
func (d *MPXDaemon) handleStopStream(c *gin.Context) {
	if err := d.socketClient.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "stopped",
	})
}

// startRequestFromForm reads the start form. Empty fields are left unset
// so the daemon's current configuration fills them.
func (d *MPXDaemon) startRequestFromForm(c *gin.Context) (*protocol.StartRequest, error) {
	req := &protocol.StartRequest{
		Device: c.PostForm("device"),
		Source:  strings.ToLower(c.PostForm("source")),
		Capture: c.PostForm("capture_device"),
		PI:      c.PostForm("pi"),
	}

	var err error
	if req.SampleRate, err = formInt(c, "fs"); err != nil {
		return nil, err
	}
	if req.ToneHz, err = formFloat(c, "tone"); err != nil {
		return nil, err
	}
	if req.Duration, err = formFloat(c, "duration"); err != nil {
		return nil, err
	}
	for field, dst := range map[string]**float64{
		"pilot":     &req.Pilot,
		"rds":       &req.RDS,
		"rds2":      &req.RDS2,
		"level_mpx": &req.LevelMPX,
		"tone_db":   &req.ToneDB,
		"lowpass":   &req.LowpassHz,
	} {
		if *dst, err = formFloatPtr(c, field); err != nil {
			return nil, err
		}
	}
	if v, ok := c.GetPostForm("ps"); ok {
		req.PS = &v
	}
	if v, ok := c.GetPostForm("rt"); ok {
		req.RT = &v
	}
	if v := c.PostForm("pty"); v != "" {
		pty, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid pty %q", v)
		}
		req.PTY = &pty
	}
	// An unchecked box is not submitted at all, so absence means off
	v := c.PostForm("enable_rds2")
	rds2 := v == "on" || v == "true" || v == "1"
	req.EnableRDS2 = &rds2

	if path, err := d.saveUpload(c, "audio"); err != nil {
		return nil, err
	} else if path != "" {
		req.InputFile = path
		if req.Source == "" {
			req.Source = "file"
		}
	}
	if path, err := d.saveUpload(c, "logo"); err != nil {
		return nil, err
	} else if path != "" {
		req.Logo = &path
	} else if v := c.PostForm("clear_logo"); v == "on" || v == "true" || v == "1" {
		none := ""
		req.Logo = &none
	}

	return req, nil
}

// saveUpload stores the file of form field name, if any, and returns
// its path
func (d *MPXDaemon) saveUpload(c *gin.Context, name string) (string, error) {
	file, err := c.FormFile(name)
	if err != nil {
		if err == http.ErrMissingFile || err == http.ErrNotMultipart {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s upload: %w", name, err)
	}

	dir := d.coreEngine.UploadDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	path, err := filepath.Abs(filepath.Join(dir, fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(file.Filename))))
	if err != nil {
		return "", err
	}
	if err := c.SaveUploadedFile(file, path); err != nil {
		return "", fmt.Errorf("failed to save %s upload: %w", name, err)
	}
	logging.Infof("web", "Saved %s upload %s (%d bytes)", name, path, file.Size)
	return path, nil
}

func formInt(c *gin.Context, field string) (int, error) {
	v := strings.TrimSpace(c.PostForm(field))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", field, v)
	}
	return n, nil
}

func formFloat(c *gin.Context, field string) (float64, error) {
	p, err := formFloatPtr(c, field)
	if p == nil {
		return 0, err
	}
	return *p, nil
}

func formFloatPtr(c *gin.Context, field string) (*float64, error) {
	v := strings.TrimSpace(c.PostForm(field))
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", field, v)
	}
	return &f, nil
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleMonitorWebSocket streams status, levels and spectrum at 10 Hz
func (d *MPXDaemon) handleMonitorWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warnf("web", "WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	logging.Debug("web", "Monitor WebSocket client connected")

	// The client only ever closes; reading surfaces that
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			report := d.coreEngine.Status()
			data := gin.H{
				"type":   "monitor",
				"status": report.Stream,
				"on_air": report.OnAir,
			}
			if report.Monitor != nil {
				data["levels"] = report.Monitor.Levels
				data["spectrum"] = report.Monitor.Spectrum
				data["bands"] = report.Monitor.Bands
			}

			conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteJSON(data); err != nil {
				logging.Debugf("web", "WebSocket write error: %v", err)
				return
			}

		case <-closed:
			logging.Debug("web", "Monitor WebSocket client disconnected")
			return

		case <-d.ctx.Done():
			return
		}
	}
}
