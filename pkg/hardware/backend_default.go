//go:build !portaudio

package hardware

import "fmt"

// SelectBackend opens the named output backend. Builds without the
// portaudio tag only provide the null backend.
func SelectBackend(name string) (OutputBackend, error) {
	switch name {
	case "", "auto", "null":
		return NewNullBackend(), nil
	case "portaudio":
		return nil, fmt.Errorf("portaudio support not compiled in (rebuild with -tags portaudio)")
	default:
		return nil, fmt.Errorf("unknown audio backend %q", name)
	}
}

// AvailableBackends lists the backends compiled into this binary
func AvailableBackends() []string {
	return []string{"null"}
}
