package client

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/rdsmpx/pkg/hardware"
	"github.com/dougsko/rdsmpx/pkg/protocol"
	"github.com/dougsko/rdsmpx/pkg/stream"
)

type lineLog struct {
	mutex sync.Mutex
	lines []string
}

func (l *lineLog) add(line string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.lines = append(l.lines, line)
}

func (l *lineLog) last() string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if len(l.lines) == 0 {
		return ""
	}
	return l.lines[len(l.lines)-1]
}

// fakeDaemon answers one line per connection with reply(line)
func fakeDaemon(t *testing.T, reply func(line string) *protocol.Response) (string, *lineLog) {
	t.Helper()

	dir, err := os.MkdirTemp("", "mpxc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "d.sock")
	listener, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	seen := &lineLog{}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			scanner := bufio.NewScanner(conn)
			if scanner.Scan() {
				line := scanner.Text()
				seen.add(line)
				conn.Write([]byte(reply(line).String() + "\n"))
			}
			conn.Close()
		}
	}()
	return path, seen
}

func TestSocketClientCommands(t *testing.T) {
	path, seen := fakeDaemon(t, func(line string) *protocol.Response {
		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		switch cmd.Type {
		case protocol.CmdPing:
			return protocol.NewSuccessResponse(map[string]interface{}{"pong": true})
		case protocol.CmdStatus:
			return protocol.NewSuccessResponse(map[string]interface{}{
				"status": stream.Status{Running: true, Backend: "null", SampleRate: 192000, Format: "float32"},
				"on_air": true,
			})
		case protocol.CmdStart:
			return protocol.NewSuccessResponse(map[string]interface{}{
				"status": stream.Status{Running: true, SessionID: 7},
			})
		case protocol.CmdDevices:
			return protocol.NewSuccessResponse(map[string]interface{}{
				"devices": []hardware.DeviceInfo{{Index: 0, Name: "null", Default: true}},
			})
		case protocol.CmdConfig:
			cfg := stream.DefaultConfig()
			return protocol.NewSuccessResponse(map[string]interface{}{"config": cfg})
		case protocol.CmdSessions:
			return protocol.NewSuccessResponse(map[string]interface{}{"count": 0})
		case protocol.CmdStop:
			return protocol.NewErrorResponse("no session running")
		}
		return protocol.NewErrorResponse("unknown command: " + cmd.Type)
	})

	c := NewSocketClient(path)

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, c.Ping())
		assert.True(t, c.IsConnected())
	})

	t.Run("Status", func(t *testing.T) {
		report, err := c.GetStatus()
		require.NoError(t, err)
		assert.True(t, report.Stream.Running)
		assert.Equal(t, 192000, report.Stream.SampleRate)
		assert.True(t, report.OnAir)
		assert.Nil(t, report.Monitor)
	})

	t.Run("Start With Request", func(t *testing.T) {
		ps := "KXYZ"
		status, err := c.Start(&protocol.StartRequest{PI: "C0DE", PS: &ps})
		require.NoError(t, err)
		assert.Equal(t, int64(7), status.SessionID)

		last := seen.last()
		assert.True(t, strings.HasPrefix(last, `START:{`), "unexpected wire line %q", last)
		assert.Contains(t, last, `"pi":"C0DE"`)
	})

	t.Run("Devices", func(t *testing.T) {
		devices, err := c.Devices()
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.True(t, devices[0].Default)
	})

	t.Run("Config", func(t *testing.T) {
		cfg, err := c.Config("last")
		require.NoError(t, err)
		assert.Equal(t, uint16(0x1234), cfg.Identity.PI)
		assert.Equal(t, "CONFIG:last", seen.last())
	})

	t.Run("Empty Sessions", func(t *testing.T) {
		sessions, err := c.Sessions(5)
		require.NoError(t, err)
		assert.Empty(t, sessions)
		assert.Equal(t, "SESSIONS:5", seen.last())
	})

	t.Run("Error Response", func(t *testing.T) {
		err := c.Stop()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no session running")
	})
}

func TestSocketClientNoDaemon(t *testing.T) {
	c := NewSocketClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := c.GetStatus()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
	assert.False(t, c.IsConnected())
}
