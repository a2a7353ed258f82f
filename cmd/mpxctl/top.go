package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gdamore/tcell"

	"github.com/dougsko/rdsmpx/pkg/audio"
	"github.com/dougsko/rdsmpx/pkg/client"
	"github.com/dougsko/rdsmpx/pkg/protocol"
)

// Spectrum rows span this many dB below 0 dBFS
const spectrumFloorDB = 100

var (
	styleText   = tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.ColorBlack)
	styleTitle  = styleText.Bold(true)
	styleOnAir  = tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.ColorRed).Bold(true)
	styleWarn   = styleText.Foreground(tcell.ColorYellow)
	styleBar    = styleText.Foreground(tcell.ColorGreen)
	styleMarker = styleText.Foreground(tcell.ColorDarkCyan)
)

func Clear(scr tcell.Screen, x, y, h, w int, c rune, style tcell.Style) {
	for j := y; j < y+h; j++ {
		for i := x; i < x+w; i++ {
			scr.SetContent(i, j, c, nil, style)
		}
	}
}

func DrawLines(scr tcell.Screen, x, y int, style tcell.Style, lines []string) {
	for j, line := range lines {
		for i, c := range []rune(line) {
			scr.SetContent(x+i, y+j, c, nil, style)
		}
	}
}

// runTop polls the daemon and redraws until Ctrl-C, q or Esc
func runTop(c *client.SocketClient, interval time.Duration) error {
	if !c.IsConnected() {
		return fmt.Errorf("daemon not reachable")
	}

	scr, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := scr.Init(); err != nil {
		return err
	}
	defer scr.Fini()
	scr.Clear()

	events := make(chan tcell.Event)
	go func() {
		for {
			ev := scr.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var report *protocol.StatusReport
	var pollErr error
	report, pollErr = c.GetStatus()
	draw(scr, report, pollErr)

	for {
		select {
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if ev.Key() == tcell.KeyCtrlC || ev.Key() == tcell.KeyEscape || ev.Rune() == 'q' {
					return nil
				}
			case *tcell.EventResize:
				scr.Sync()
				draw(scr, report, pollErr)
			}
		case <-ticker.C:
			report, pollErr = c.GetStatus()
			draw(scr, report, pollErr)
		}
	}
}

func draw(scr tcell.Screen, report *protocol.StatusReport, pollErr error) {
	w, h := scr.Size()
	Clear(scr, 0, 0, h, w, ' ', styleText)

	DrawLines(scr, 0, 0, styleTitle, []string{"mpxctl top  (q to quit)"})
	if pollErr != nil {
		DrawLines(scr, 0, 2, styleWarn, []string{"status: " + pollErr.Error()})
		scr.Show()
		return
	}

	if report.OnAir {
		DrawLines(scr, w-8, 0, styleOnAir, []string{" ON AIR "})
	}

	lines := statusLines(report)
	DrawLines(scr, 0, 2, styleText, lines)
	y := 2 + len(lines)
	if report.Stream.Degraded {
		DrawLines(scr, 0, y, styleWarn, []string{"DEGRADED: " + report.Stream.LastError})
		y++
	}

	if report.Monitor != nil {
		y++
		bands := bandLines(report.Monitor.Bands, w-12)
		DrawLines(scr, 0, y, styleBar, bands)
		y += len(bands) + 1

		rows := h - y - 1
		if rows > 2 {
			DrawLines(scr, 0, y, styleBar, spectrumRows(report.Monitor.Spectrum.Spectrum, w, rows))
			DrawLines(scr, 0, y+rows, styleMarker, []string{frequencyAxis(report.Monitor.Spectrum, w)})
		}
	}

	scr.Show()
}

// statusLines renders the session summary
func statusLines(report *protocol.StatusReport) []string {
	st := report.Stream
	lines := []string{fmt.Sprintf("daemon %s  up %s", report.Version, (time.Duration(report.Uptime) * time.Second).Round(time.Second).String())}
	if !st.Running {
		return append(lines, fmt.Sprintf("idle  backend %s", st.Backend))
	}

	lines = append(lines,
		fmt.Sprintf("session %d  %s/%s  %d Hz %s x%d", st.SessionID, st.Backend, st.Device, st.SampleRate, st.Format, st.Channels),
		fmt.Sprintf("buffer %d/%d  underruns %d  monitor dropped %d  uptime %.0f s",
			st.Buffered, st.BufferCapacity, st.Underruns, st.MonitorDropped, st.Uptime),
	)
	if st.CaptureDevice != "" {
		lines = append(lines, fmt.Sprintf("capture %s  %d Hz  dropped %d  starved %d",
			st.CaptureDevice, st.CaptureRate, st.CaptureDropped, st.CaptureStarved))
	}
	if cfg := st.Config; cfg != nil {
		id := cfg.Identity
		lines = append(lines, fmt.Sprintf("PI %04X  PS %q  PTY %d  RT %q", id.PI, id.PS, id.PTY, id.RT))
	}
	if report.Monitor != nil {
		lv := report.Monitor.Levels
		limit := ""
		if lv.Limiting {
			limit = "  LIMIT"
		}
		lines = append(lines, fmt.Sprintf("rms %6.1f dBFS  peak %6.1f dBFS%s", lv.RMSLevel, lv.PeakLevel, limit))
	}
	return lines
}

// bandLines draws one meter per multiplex component
func bandLines(b audio.BandLevels, width int) []string {
	if width < 10 {
		width = 10
	}
	bands := []struct {
		name string
		db   float32
	}{
		{"mono", b.Mono}, {"pilot", b.Pilot}, {"stereo", b.Stereo}, {"rds", b.RDS}, {"rds2", b.RDS2},
	}

	lines := make([]string, len(bands))
	for i, band := range bands {
		n := int(math.Round(float64(width-12) * dbFraction(band.db)))
		lines[i] = fmt.Sprintf("%-6s %5.0f %s", band.name, band.db, strings.Repeat("#", n))
	}
	return lines
}

// spectrumRows max-pools the spectrum into width columns and renders it
// top-down as rows of bars
func spectrumRows(spec []float32, width, rows int) []string {
	out := make([]string, rows)
	if width <= 0 || rows <= 0 {
		return out
	}

	heights := make([]int, width)
	if len(spec) > 0 {
		for col := range heights {
			lo := col * len(spec) / width
			hi := (col + 1) * len(spec) / width
			if hi <= lo {
				hi = lo + 1
			}
			peak := float32(-math.MaxFloat32)
			for _, v := range spec[lo:min(hi, len(spec))] {
				peak = max(peak, v)
			}
			heights[col] = int(math.Round(float64(rows) * dbFraction(peak)))
		}
	}

	row := make([]rune, width)
	for r := 0; r < rows; r++ {
		level := rows - r
		for col, hgt := range heights {
			if hgt >= level {
				row[col] = '|'
			} else {
				row[col] = ' '
			}
		}
		out[r] = string(row)
	}
	return out
}

// frequencyAxis marks the pilot, stereo and RDS subcarriers under the
// spectrum
func frequencyAxis(spec audio.SpectrumData, width int) string {
	axis := []rune(strings.Repeat("-", max(width, 0)))
	span := float32(len(spec.Spectrum)) * spec.FreqStep
	if span <= 0 || width <= 0 {
		return string(axis)
	}
	for _, m := range []struct {
		hz    float32
		label string
	}{{19000, "19k"}, {38000, "38k"}, {57000, "57k"}, {66500, "66k"}, {76000, "76k"}} {
		col := int(m.hz * float32(width) / span)
		for i, c := range m.label {
			if col+i < width {
				axis[col+i] = c
			}
		}
	}
	return string(axis)
}

func dbFraction(db float32) float64 {
	f := (float64(db) + spectrumFloorDB) / spectrumFloorDB
	return math.Max(0, math.Min(1, f))
}
