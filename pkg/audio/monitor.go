package audio

import (
	"math"
	"math/cmplx"
	"sync"
	"time"

	"github.com/mjibson/go-dsp/fft"
)

// LevelData represents real-time level measurements of the multiplex
type LevelData struct {
	Timestamp int64   `json:"timestamp"`
	RMSLevel  float32 `json:"rms"`      // dBFS
	PeakLevel float32 `json:"peak"`     // dBFS
	Limiting  bool    `json:"limiting"` // samples hit the output clamp
}

// SpectrumData represents FFT spectrum analysis
type SpectrumData struct {
	Timestamp  int64     `json:"timestamp"`
	SampleRate int       `json:"sample_rate"`
	Spectrum   []float32 `json:"spectrum"`  // dB, max-pooled to DisplayBins
	FreqStep   float32   `json:"freq_step"` // Hz per displayed bin
}

// BandLevels are the strongest spectral components, in dB, around each
// multiplex component.
type BandLevels struct {
	Mono   float32 `json:"mono"`
	Pilot  float32 `json:"pilot"`
	Stereo float32 `json:"stereo"`
	RDS    float32 `json:"rds"`
	RDS2   float32 `json:"rds2"`
}

// Snapshot combines everything the live views need
type Snapshot struct {
	Levels   LevelData    `json:"levels"`
	Spectrum SpectrumData `json:"spectrum"`
	Bands    BandLevels   `json:"bands"`
}

// DisplayBins is the number of spectrum points handed to viewers.
const DisplayBins = 512

// limitThreshold marks samples sitting at the output clamp.
const limitThreshold = 0.998

// Monitor measures the generated multiplex. The producer feeds it chunks;
// readers take snapshots from other goroutines.
type Monitor struct {
	mutex sync.RWMutex

	sampleRate int
	fftSize    int

	currentRMS   float32
	currentPeak  float32
	peakHold     float32
	peakHoldTime time.Time
	limiting     bool

	spectrum     []float32 // full resolution, fftSize/2 bins
	bands        BandLevels
	spectrumTime time.Time

	sampleBuffer []float64
	window       []float64

	sampleCount int64
	limitCount  int64
}

// NewMonitor creates a monitor for sampleRate with an fftSize-point
// analysis window
func NewMonitor(sampleRate, fftSize int) *Monitor {
	m := &Monitor{fftSize: fftSize, window: makeHannWindow(fftSize)}
	m.Reset(sampleRate)
	return m
}

func makeHannWindow(size int) []float64 {
	window := make([]float64, size)
	for i := 0; i < size; i++ {
		window[i] = 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(size-1)))
	}
	return window
}

// Reset clears all measurements and switches to a new sample rate
func (m *Monitor) Reset(sampleRate int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.sampleRate = sampleRate
	m.currentRMS, m.currentPeak, m.peakHold = -100, -100, -100
	m.limiting = false
	m.spectrum = make([]float32, m.fftSize/2)
	for i := range m.spectrum {
		m.spectrum[i] = -100
	}
	m.bands = BandLevels{-100, -100, -100, -100, -100}
	m.sampleBuffer = m.sampleBuffer[:0]
	m.sampleCount, m.limitCount = 0, 0
}

// ProcessSamples processes a chunk of multiplex samples
func (m *Monitor) ProcessSamples(samples []float32) {
	if len(samples) == 0 {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.calculateLevels(samples)

	for _, s := range samples {
		m.sampleBuffer = append(m.sampleBuffer, float64(s))
	}
	if len(m.sampleBuffer) >= m.fftSize {
		// Analyse the newest window only
		m.sampleBuffer = m.sampleBuffer[len(m.sampleBuffer)-m.fftSize:]
		m.calculateSpectrum()
		m.sampleBuffer = m.sampleBuffer[:0]
	}

	m.sampleCount += int64(len(samples))
}

func (m *Monitor) calculateLevels(samples []float32) {
	var sumSquares float64
	var peak float64
	limiting := false

	for _, s := range samples {
		a := math.Abs(float64(s))
		if a > peak {
			peak = a
		}
		if a >= limitThreshold {
			limiting = true
			m.limitCount++
		}
		sumSquares += a * a
	}

	m.currentRMS = toDB(math.Sqrt(sumSquares / float64(len(samples))))
	m.currentPeak = toDB(peak)

	now := time.Now()
	if m.currentPeak > m.peakHold || now.Sub(m.peakHoldTime) > 2*time.Second {
		m.peakHold = m.currentPeak
		m.peakHoldTime = now
	}
	m.limiting = limiting
}

func toDB(v float64) float32 {
	if v <= 0 {
		return -100
	}
	return float32(20 * math.Log10(v))
}

func (m *Monitor) calculateSpectrum() {
	windowed := make([]float64, m.fftSize)
	var wsum float64
	for i := range windowed {
		windowed[i] = m.sampleBuffer[i] * m.window[i]
		wsum += m.window[i]
	}

	result := fft.FFTReal(windowed)

	// Scale so a full-scale sine reads 0 dB
	scale := 2 / wsum
	for i := range m.spectrum {
		m.spectrum[i] = toDB(cmplx.Abs(result[i]) * scale)
	}

	m.bands = BandLevels{
		Mono:   m.bandPeak(30, 15000),
		Pilot:  m.bandPeak(18500, 19500),
		Stereo: m.bandPeak(23000, 53000),
		RDS:    m.bandPeak(55000, 59000),
		RDS2:   m.bandPeak(64500, 87500),
	}
	m.spectrumTime = time.Now()
}

// bandPeak returns the largest bin between lo and hi Hz, or -100 when the
// band lies above Nyquist.
func (m *Monitor) bandPeak(lo, hi float64) float32 {
	step := float64(m.sampleRate) / float64(m.fftSize)
	from := int(math.Ceil(lo / step))
	to := int(hi / step)
	if to >= len(m.spectrum) {
		to = len(m.spectrum) - 1
	}
	best := float32(-100)
	for i := from; i <= to; i++ {
		if m.spectrum[i] > best {
			best = m.spectrum[i]
		}
	}
	return best
}

// GetCurrentLevels returns the current levels
func (m *Monitor) GetCurrentLevels() LevelData {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return LevelData{
		Timestamp: time.Now().UnixMilli(),
		RMSLevel:  m.currentRMS,
		PeakLevel: m.currentPeak,
		Limiting:  m.limiting,
	}
}

// GetCurrentSpectrum returns the spectrum reduced to DisplayBins points
func (m *Monitor) GetCurrentSpectrum() SpectrumData {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	bins := DisplayBins
	if bins > len(m.spectrum) {
		bins = len(m.spectrum)
	}
	group := len(m.spectrum) / bins
	spectrum := make([]float32, bins)
	for i := range spectrum {
		best := float32(-100)
		for _, v := range m.spectrum[i*group : (i+1)*group] {
			if v > best {
				best = v
			}
		}
		spectrum[i] = best
	}

	return SpectrumData{
		Timestamp:  m.spectrumTime.UnixMilli(),
		SampleRate: m.sampleRate,
		Spectrum:   spectrum,
		FreqStep:   float32(m.sampleRate) / float32(m.fftSize) * float32(group),
	}
}

// GetBandLevels returns the per-component levels of the last analysis
func (m *Monitor) GetBandLevels() BandLevels {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.bands
}

// GetSnapshot returns combined data for the live views
func (m *Monitor) GetSnapshot() Snapshot {
	return Snapshot{
		Levels:   m.GetCurrentLevels(),
		Spectrum: m.GetCurrentSpectrum(),
		Bands:    m.GetBandLevels(),
	}
}

// GetStatistics returns monitoring statistics
func (m *Monitor) GetStatistics() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	limitRate := float64(0)
	if m.sampleCount > 0 {
		limitRate = float64(m.limitCount) / float64(m.sampleCount) * 100.0
	}

	return map[string]interface{}{
		"sample_count":   m.sampleCount,
		"limit_count":    m.limitCount,
		"limit_rate_pct": limitRate,
		"peak_hold_db":   m.peakHold,
		"sample_rate":    m.sampleRate,
		"fft_size":       m.fftSize,
	}
}
