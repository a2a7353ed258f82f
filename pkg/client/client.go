package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/dougsko/rdsmpx/pkg/hardware"
	"github.com/dougsko/rdsmpx/pkg/protocol"
	"github.com/dougsko/rdsmpx/pkg/storage"
	"github.com/dougsko/rdsmpx/pkg/stream"
)

// SocketClient represents a client connection to the core engine
type SocketClient struct {
	socketPath string
	timeout    time.Duration
}

// NewSocketClient creates a new socket client
func NewSocketClient(socketPath string) *SocketClient {
	return &SocketClient{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// SetTimeout changes the per-command timeout
func (c *SocketClient) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SendCommand sends a command and returns the response
func (c *SocketClient) SendCommand(cmd string) (*protocol.Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		return nil, fmt.Errorf("send error: %w", err)
	}

	// Status replies carry a spectrum, which outgrows the default token size
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return nil, fmt.Errorf("no response received")
	}

	var response protocol.Response
	if err := json.Unmarshal(scanner.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	return &response, nil
}

// call sends cmd and fails on an unsuccessful response
func (c *SocketClient) call(what, cmd string) (*protocol.Response, error) {
	resp, err := c.SendCommand(cmd)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s error: %s", what, resp.Error)
	}
	return resp, nil
}

// decodeField converts data[key] into out by way of JSON
func decodeField(data map[string]interface{}, key string, out interface{}) error {
	raw, ok := data[key]
	if !ok {
		return fmt.Errorf("%s not found in response", key)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(encoded, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return nil
}

// GetStatus gets the current daemon status
func (c *SocketClient) GetStatus() (*protocol.StatusReport, error) {
	resp, err := c.call("status", protocol.CmdStatus)
	if err != nil {
		return nil, err
	}

	// Convert to JSON and back to parse properly
	encoded, _ := json.Marshal(resp.Data)
	var report protocol.StatusReport
	if err := json.Unmarshal(encoded, &report); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}
	return &report, nil
}

// Start starts a session. A nil request reuses the daemon's configuration.
func (c *SocketClient) Start(req *protocol.StartRequest) (*stream.Status, error) {
	cmd, err := protocol.FormatStart(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.call("start", cmd)
	if err != nil {
		return nil, err
	}

	var status stream.Status
	if err := decodeField(resp.Data, "status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Stop stops the running session
func (c *SocketClient) Stop() error {
	_, err := c.call("stop", protocol.CmdStop)
	return err
}

// Devices lists the daemon's output devices
func (c *SocketClient) Devices() ([]hardware.DeviceInfo, error) {
	resp, err := c.call("devices", protocol.CmdDevices)
	if err != nil {
		return nil, err
	}

	var devices []hardware.DeviceInfo
	if err := decodeField(resp.Data, "devices", &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Config returns the configuration the next bare START would use. which
// selects "last" for the last started session instead.
func (c *SocketClient) Config(which string) (*stream.Config, error) {
	cmd := protocol.CmdConfig
	if which != "" {
		cmd += ":" + which
	}

	resp, err := c.call("config", cmd)
	if err != nil {
		return nil, err
	}

	var cfg stream.Config
	if err := decodeField(resp.Data, "config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Sessions gets recent sessions from the history
func (c *SocketClient) Sessions(limit int) ([]storage.SessionRecord, error) {
	cmd := protocol.CmdSessions
	if limit > 0 {
		cmd = fmt.Sprintf("%s:%d", protocol.CmdSessions, limit)
	}

	resp, err := c.call("sessions", cmd)
	if err != nil {
		return nil, err
	}

	if _, ok := resp.Data["sessions"]; !ok {
		return []storage.SessionRecord{}, nil
	}
	var sessions []storage.SessionRecord
	if err := decodeField(resp.Data, "sessions", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Ping tests the connection
func (c *SocketClient) Ping() error {
	_, err := c.call("ping", protocol.CmdPing)
	return err
}

// IsConnected tests if the daemon is reachable
func (c *SocketClient) IsConnected() bool {
	return c.Ping() == nil
}
