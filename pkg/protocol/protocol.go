package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dougsko/rdsmpx/pkg/audio"
	"github.com/dougsko/rdsmpx/pkg/rds"
	"github.com/dougsko/rdsmpx/pkg/stream"
)

// Command represents a command sent to the core engine
type Command struct {
	Type string                 `json:"type"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Response represents a response from the core engine
type Response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// StatusReport is the data of a STATUS response
type StatusReport struct {
	Stream  stream.Status   `json:"status"`
	Monitor *audio.Snapshot `json:"monitor,omitempty"`
	OnAir   bool            `json:"on_air"`
	Uptime  float64         `json:"daemon_uptime"`
	Version string          `json:"version,omitempty"`
}

// StartRequest carries the user-facing fields of a start request. Unset
// fields keep the value of the base configuration they are applied to.
type StartRequest struct {
	SampleRate int      `json:"fs,omitempty"`
	Device     string   `json:"device,omitempty"`
	Source     string   `json:"source,omitempty"` // tone, file or capture
	ToneHz     float64  `json:"tone,omitempty"`
	ToneDB     *float64 `json:"tone_db,omitempty"`
	Duration   float64  `json:"duration,omitempty"`
	InputFile  string   `json:"input_file,omitempty"`
	Capture    string   `json:"capture_device,omitempty"`
	LowpassHz  *float64 `json:"lowpass,omitempty"`
	PI         string   `json:"pi,omitempty"` // hex
	PS         *string  `json:"ps,omitempty"`
	RT         *string  `json:"rt,omitempty"`
	PTY        *int     `json:"pty,omitempty"`
	TP         *bool    `json:"tp,omitempty"`
	Pilot      *float64 `json:"pilot,omitempty"`
	RDS        *float64 `json:"rds,omitempty"`
	RDS2       *float64 `json:"rds2,omitempty"`
	EnableRDS2 *bool    `json:"enable_rds2,omitempty"`
	LevelMPX   *float64 `json:"level_mpx,omitempty"` // dB
	Logo       *string  `json:"logo,omitempty"`      // image path, "" clears
}

// Apply returns base with the request's fields applied
func (r StartRequest) Apply(base stream.Config) (stream.Config, error) {
	cfg := base
	if r.SampleRate != 0 {
		cfg.SampleRate = r.SampleRate
	}
	if r.Device != "" {
		cfg.Device = r.Device
	}

	switch r.Source {
	case "":
		if r.InputFile != "" {
			cfg.Source.Kind = audio.SourceFile
		}
	case string(audio.SourceTone), string(audio.SourceFile), string(audio.SourceCapture):
		cfg.Source.Kind = audio.SourceKind(r.Source)
	default:
		return stream.Config{}, fmt.Errorf("source must be tone, file or capture, got %q", r.Source)
	}
	if r.InputFile != "" {
		cfg.Source.Path = r.InputFile
	}
	if r.Capture != "" {
		cfg.Source.Device = r.Capture
	}
	if r.ToneHz != 0 {
		cfg.Source.ToneHz = r.ToneHz
	}
	if r.ToneDB != nil {
		cfg.Source.LevelDB = *r.ToneDB
	}
	if r.Duration != 0 {
		cfg.Source.Duration = r.Duration
	}
	if r.LowpassHz != nil {
		cfg.Source.LowpassHz = *r.LowpassHz
	}

	if r.PI != "" {
		pi, err := rds.ParsePI(r.PI)
		if err != nil {
			return stream.Config{}, err
		}
		cfg.Identity.PI = pi
	}
	if r.PS != nil {
		cfg.Identity.PS = rds.NormalizePS(*r.PS)
	}
	if r.RT != nil {
		cfg.Identity.RT = rds.NormalizeRT(*r.RT)
	}
	if r.PTY != nil {
		if *r.PTY < 0 || *r.PTY > 31 {
			return stream.Config{}, fmt.Errorf("pty must be 0-31, got %d", *r.PTY)
		}
		cfg.Identity.PTY = uint8(*r.PTY)
	}
	if r.TP != nil {
		cfg.Identity.TP = *r.TP
	}

	if r.Pilot != nil {
		cfg.PilotLevel = *r.Pilot
	}
	if r.RDS != nil {
		cfg.RDSLevel = *r.RDS
	}
	if r.RDS2 != nil {
		cfg.RDS2Level = *r.RDS2
	}
	if r.EnableRDS2 != nil {
		cfg.EnableRDS2 = *r.EnableRDS2
	}
	if r.LevelMPX != nil {
		cfg.GainDB = *r.LevelMPX
	}
	if r.Logo != nil {
		cfg.Logo = nil
		cfg.LogoPath = *r.Logo
	}

	return cfg, cfg.Validate()
}

// ParseCommand parses a text command into a Command struct
func ParseCommand(text string) (*Command, error) {
	parts := strings.SplitN(text, ":", 2)

	cmd := &Command{
		Type: strings.ToUpper(strings.TrimSpace(parts[0])),
		Args: make(map[string]interface{}),
	}

	if len(parts) > 1 {
		args := strings.TrimSpace(parts[1])

		switch cmd.Type {
		case CmdStart:
			// START:{"pi":"C0DE","ps":"KXYZ"}
			if args != "" {
				var req StartRequest
				if err := json.Unmarshal([]byte(args), &req); err != nil {
					return nil, fmt.Errorf("invalid START arguments: %w", err)
				}
				cmd.Args["request"] = req
			}

		case CmdSessions:
			// SESSIONS:20
			cmd.Args["limit"] = args

		case CmdConfig:
			// CONFIG:last or CONFIG:file
			cmd.Args["which"] = strings.ToLower(args)
		}
	}

	return cmd, nil
}

// FormatStart renders a START command line for req
func FormatStart(req *StartRequest) (string, error) {
	if req == nil {
		return CmdStart, nil
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return CmdStart + ":" + string(data), nil
}

// String converts a Response to a JSON string
func (r *Response) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data map[string]interface{}) *Response {
	return &Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// Protocol commands
const (
	CmdStatus   = "STATUS"
	CmdStart    = "START"
	CmdStop     = "STOP"
	CmdDevices  = "DEVICES"
	CmdConfig   = "CONFIG"
	CmdSessions = "SESSIONS"
	CmdQuit     = "QUIT"
	CmdPing     = "PING"
)
