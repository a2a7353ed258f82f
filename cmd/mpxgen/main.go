package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dougsko/rdsmpx/pkg/config"
	"github.com/dougsko/rdsmpx/pkg/logging"
	"github.com/dougsko/rdsmpx/pkg/protocol"
	"github.com/dougsko/rdsmpx/pkg/stream"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file to start from (optional)")
		output     = flag.String("output", "mpx.wav", "Output WAV file (16-bit mono)")
		sampleRate = flag.Int("fs", 0, "Output sample rate in Hz")
		tone       = flag.Float64("tone", 0, "Test tone frequency in Hz")
		toneDB     = flag.Float64("tone-db", -12, "Test tone level in dBFS")
		duration   = flag.Float64("duration", 0, "Test tone duration in seconds")
		input      = flag.String("input", "", "Program WAV file (replaces the test tone)")
		lowpass    = flag.Float64("lowpass", 0, "Program lowpass cutoff in Hz (0 disables)")
		pi         = flag.String("pi", "", "Programme Identification, hex")
		ps         = flag.String("ps", "", "Programme Service name (8 chars)")
		rt         = flag.String("rt", "", "RadioText (64 chars)")
		pty        = flag.Int("pty", 0, "Programme type 0-31")
		pilot      = flag.Float64("pilot", 0, "Pilot injection level")
		rdsLevel   = flag.Float64("rds", 0, "RDS injection level")
		rds2Level  = flag.Float64("rds2", 0, "RDS2 injection level")
		enableRDS2 = flag.Bool("enable-rds2", false, "Enable the RDS2 subcarriers")
		levelMPX   = flag.Float64("level-mpx", 0, "Overall MPX gain in dB")
		logo       = flag.String("logo", "", "Station logo image for RDS2")
		verbose    = flag.Bool("verbose", false, "Debug logging")
	)
	flag.Parse()

	level := logging.LevelInfo
	if *verbose {
		level = logging.LevelDebug
	}
	logging.SetGlobalLogger(logging.NewWriterLogger(os.Stderr, level, false))

	base := stream.DefaultConfig()
	if *configPath != "" {
		cfg, err := config.LoadConfig(*configPath)
		if err != nil {
			fail("Failed to load configuration: %v", err)
		}
		if base, err = cfg.StreamConfig(); err != nil {
			fail("Invalid configuration: %v", err)
		}
	}

	// Only flags given on the command line override the base
	req := protocol.StartRequest{}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "fs":
			req.SampleRate = *sampleRate
		case "tone":
			req.ToneHz = *tone
		case "tone-db":
			req.ToneDB = toneDB
		case "duration":
			req.Duration = *duration
		case "input":
			req.InputFile = *input
		case "lowpass":
			req.LowpassHz = lowpass
		case "pi":
			req.PI = *pi
		case "ps":
			req.PS = ps
		case "rt":
			req.RT = rt
		case "pty":
			req.PTY = pty
		case "pilot":
			req.Pilot = pilot
		case "rds":
			req.RDS = rdsLevel
		case "rds2":
			req.RDS2 = rds2Level
		case "enable-rds2":
			req.EnableRDS2 = enableRDS2
		case "level-mpx":
			req.LevelMPX = levelMPX
		case "logo":
			req.Logo = logo
		}
	})

	cfg, err := req.Apply(base)
	if err != nil {
		fail("Invalid parameters: %v", err)
	}

	logging.Infof("mpxgen", "Rendering %s source at %d Hz, PI %04X, PS %q, RDS2 %v",
		cfg.Source.Kind, cfg.SampleRate, cfg.Identity.PI, cfg.Identity.PS, cfg.EnableRDS2)

	start := time.Now()
	n, err := stream.RenderToFile(cfg, *output)
	if err != nil {
		fail("Render failed: %v", err)
	}

	seconds := float64(n) / float64(cfg.SampleRate)
	logging.Infof("mpxgen", "Wrote %d samples (%.2f s) to %s in %v", n, seconds, *output, time.Since(start).Round(time.Millisecond))
	fmt.Printf("%s: %.2f s of MPX at %d Hz\n", *output, seconds, cfg.SampleRate)
}

func fail(format string, args ...interface{}) {
	logging.Errorf("mpxgen", format, args...)
	os.Exit(1)
}
