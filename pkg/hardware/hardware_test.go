package hardware

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name    string
		configs []OutputConfig
		rate    int
		want    StreamFormat
	}{
		{
			name:    "Exact Range Match",
			configs: []OutputConfig{{Channels: 2, MinRate: 44100, MaxRate: 48000, Format: FormatInt16}, {Channels: 2, MinRate: 8000, MaxRate: 384000, Format: FormatInt16}},
			rate:    192000,
			want:    StreamFormat{Channels: 2, SampleRate: 192000, Format: FormatInt16},
		},
		{
			name:    "Nearest Upper Bound",
			configs: []OutputConfig{{Channels: 2, MinRate: 44100, MaxRate: 48000, Format: FormatFloat32}, {Channels: 2, MinRate: 8000, MaxRate: 96000, Format: FormatInt16}},
			rate:    192000,
			want:    StreamFormat{Channels: 2, SampleRate: 96000, Format: FormatInt16},
		},
		{
			name:    "Nearest Lower Bound",
			configs: []OutputConfig{{Channels: 1, MinRate: 96000, MaxRate: 96000, Format: FormatInt32}},
			rate:    48000,
			want:    StreamFormat{Channels: 1, SampleRate: 96000, Format: FormatInt32},
		},
		{
			name: "Tie Prefers Float32",
			configs: []OutputConfig{
				{Channels: 2, MinRate: 8000, MaxRate: 192000, Format: FormatInt16},
				{Channels: 2, MinRate: 8000, MaxRate: 192000, Format: FormatFloat32},
				{Channels: 2, MinRate: 8000, MaxRate: 192000, Format: FormatInt32},
			},
			rate: 192000,
			want: StreamFormat{Channels: 2, SampleRate: 192000, Format: FormatFloat32},
		},
		{
			name: "Tie Prefers Int32 Over Int16",
			configs: []OutputConfig{
				{Channels: 2, MinRate: 48000, MaxRate: 48000, Format: FormatInt16},
				{Channels: 2, MinRate: 48000, MaxRate: 48000, Format: FormatInt32},
			},
			rate: 192000,
			want: StreamFormat{Channels: 2, SampleRate: 48000, Format: FormatInt32},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Negotiate(tt.configs, tt.rate)
			if err != nil {
				t.Fatalf("Negotiate failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}

	t.Run("No Configs", func(t *testing.T) {
		if _, err := Negotiate(nil, 192000); !errors.Is(err, ErrNoSupportedConfig) {
			t.Errorf("Expected ErrNoSupportedConfig, got %v", err)
		}
	})
}

type fakeBackend struct {
	NullBackend
	devices []DeviceInfo
	err     error
}

func (f *fakeBackend) Devices() ([]DeviceInfo, error) { return f.devices, f.err }

func TestFindDevice(t *testing.T) {
	b := &fakeBackend{devices: []DeviceInfo{
		{Index: 0, Name: "HDA Intel PCH: ALC892 Analog"},
		{Index: 1, Name: "USB Audio CODEC", Default: true},
		{Index: 2, Name: "Juli@ 192k"},
	}}

	tests := []struct {
		query string
		want  int
	}{
		{"", 1},
		{"default", 1},
		{"2", 2},
		{"USB Audio CODEC", 1},
		{"juli", 2},
		{"alc892", 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("Query %q", tt.query), func(t *testing.T) {
			d, err := FindDevice(b, tt.query)
			if err != nil {
				t.Fatalf("FindDevice failed: %v", err)
			}
			if d.Index != tt.want {
				t.Errorf("Expected device %d, got %d (%s)", tt.want, d.Index, d.Name)
			}
		})
	}

	t.Run("Not Found", func(t *testing.T) {
		if _, err := FindDevice(b, "nonexistent"); !errors.Is(err, ErrNoDevice) {
			t.Errorf("Expected ErrNoDevice, got %v", err)
		}
	})

	t.Run("No Devices", func(t *testing.T) {
		if _, err := FindDevice(&fakeBackend{}, ""); !errors.Is(err, ErrNoDevice) {
			t.Errorf("Expected ErrNoDevice, got %v", err)
		}
	})

	t.Run("Enumeration Error", func(t *testing.T) {
		if _, err := FindDevice(&fakeBackend{err: errors.New("boom")}, ""); err == nil {
			t.Error("Expected error from enumeration")
		}
	})

	t.Run("No Default Flag", func(t *testing.T) {
		nb := &fakeBackend{devices: []DeviceInfo{{Index: 3, Name: "a"}, {Index: 4, Name: "b"}}}
		d, err := FindDevice(nb, "")
		if err != nil || d.Index != 3 {
			t.Errorf("Expected first device, got %+v (%v)", d, err)
		}
	})
}

func TestSampleConversion(t *testing.T) {
	int16Tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{2, 32767},
		{-3, -32767},
		{0.5, 16384},
	}
	for _, tt := range int16Tests {
		if got := Int16Sample(tt.in); got != tt.want {
			t.Errorf("Int16Sample(%v): expected %d, got %d", tt.in, tt.want, got)
		}
	}

	if got := Int32Sample(1); got != 2147483647 {
		t.Errorf("Int32Sample(1): expected 2147483647, got %d", got)
	}
	if got := Int32Sample(-1.5); got != -2147483647 {
		t.Errorf("Int32Sample(-1.5): expected -2147483647, got %d", got)
	}
	if got := Int32Sample(0); got != 0 {
		t.Errorf("Int32Sample(0): expected 0, got %d", got)
	}
}

func TestSampleFormatString(t *testing.T) {
	if FormatFloat32.String() != "float32" || FormatInt32.String() != "int32" || FormatInt16.String() != "int16" {
		t.Error("Unexpected format names")
	}
	if SampleFormat(99).String() != "unknown" {
		t.Error("Expected unknown for out-of-range format")
	}

	data, err := json.Marshal(StreamFormat{Channels: 2, SampleRate: 192000, Format: FormatInt32})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"format":"int32"`) {
		t.Errorf("Expected format by name, got %s", data)
	}
	var back StreamFormat
	if err := json.Unmarshal(data, &back); err != nil || back.Format != FormatInt32 {
		t.Errorf("Expected int32 back, got %v (%v)", back.Format, err)
	}
	if err := json.Unmarshal([]byte(`{"format":"int8"}`), &back); err == nil {
		t.Error("Expected error for unknown format name")
	}
}

func TestSelectBackend(t *testing.T) {
	b, err := SelectBackend("null")
	if err != nil {
		t.Fatalf("SelectBackend(null) failed: %v", err)
	}
	if b.Name() != "null" {
		t.Errorf("Expected null backend, got %s", b.Name())
	}

	if _, err := SelectBackend("jack"); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestHardwareManager(t *testing.T) {
	manager := NewHardwareManager(HardwareConfig{Backend: "null"})

	if manager.IsInitialized() {
		t.Error("Expected manager to not be initialized initially")
	}
	if err := manager.SetOnAir(true); err == nil {
		t.Error("Expected error before initialization")
	}

	if err := manager.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer manager.Close()

	if !manager.IsInitialized() {
		t.Error("Expected manager to be initialized")
	}
	if manager.Backend() == nil || manager.Backend().Name() != "null" {
		t.Error("Expected null backend")
	}
	if err := manager.Initialize(); err != nil {
		t.Errorf("Second Initialize should be a no-op: %v", err)
	}

	if err := manager.SetOnAir(true); err != nil {
		t.Fatalf("SetOnAir failed: %v", err)
	}
	if !manager.OnAir() {
		t.Error("Expected on-air after SetOnAir(true)")
	}

	if err := manager.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if manager.OnAir() {
		t.Error("Expected indicator off after Close")
	}
	if manager.IsInitialized() {
		t.Error("Expected manager to be uninitialized after Close")
	}
}

func TestHardwareManagerGPIOFallback(t *testing.T) {
	manager := NewHardwareManager(HardwareConfig{Backend: "null", EnableGPIO: true, OnAirPin: "NO_SUCH_PIN"})
	if err := manager.Initialize(); err != nil {
		t.Fatalf("Initialize should fall back to mock indicator: %v", err)
	}
	defer manager.Close()

	if err := manager.SetOnAir(true); err != nil {
		t.Errorf("SetOnAir on fallback indicator failed: %v", err)
	}
}

func TestMockIndicator(t *testing.T) {
	m := NewMockIndicator()
	m.Set(true)
	m.Set(true)
	m.Set(false)
	if m.Active() {
		t.Error("Expected inactive")
	}
	if m.Changes() != 2 {
		t.Errorf("Expected 2 changes, got %d", m.Changes())
	}
}
