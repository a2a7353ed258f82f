package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/rdsmpx/pkg/audio"
	"github.com/dougsko/rdsmpx/pkg/config"
)

func newTestDaemon(t *testing.T) *MPXDaemon {
	t.Helper()

	dir, err := os.MkdirTemp("", "mpxd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := config.Default()
	cfg.Audio.Backend = "null"
	cfg.Audio.Duration = 0.5
	cfg.Audio.BufferSeconds = 0.25
	cfg.MPX.SampleRate = 48000
	cfg.API.UnixSocket = filepath.Join(dir, "d.sock")
	cfg.Storage.DatabasePath = filepath.Join(dir, "test.db")
	cfg.Storage.UploadDir = filepath.Join(dir, "uploads")

	d, err := NewMPXDaemon(cfg)
	require.NoError(t, err)
	require.NoError(t, d.coreEngine.Start())
	t.Cleanup(func() { d.coreEngine.Stop() })
	return d
}

func (d *MPXDaemon) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	d.webServer.Handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	return body
}

// multipartForm builds a start form; files maps field name to a local path
func multipartForm(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, path := range files {
		part, err := mw.CreateFormFile(field, filepath.Base(path))
		require.NoError(t, err)
		f, err := os.Open(path)
		require.NoError(t, err)
		_, err = io.Copy(part, f)
		f.Close()
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHome(t *testing.T) {
	d := newTestDaemon(t)

	w := d.serve(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rdsmpx")
	assert.Contains(t, w.Body.String(), "/ws/monitor")
}

func TestStatusAndConfig(t *testing.T) {
	d := newTestDaemon(t)

	w := d.serve(httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeBody(t, w)["status"].(map[string]interface{})
	assert.Equal(t, false, status["running"])
	assert.Equal(t, "null", status["backend"])

	w = d.serve(httptest.NewRequest(http.MethodGet, "/api/v1/config", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	file := body["file"].(map[string]interface{})
	assert.Contains(t, file, "station")
	next := body["next"].(map[string]interface{})
	assert.Equal(t, float64(48000), next["sample_rate"])

	w = d.serve(httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["count"])
}

func TestStartStopWithUpload(t *testing.T) {
	d := newTestDaemon(t)

	wavPath := filepath.Join(t.TempDir(), "program.wav")
	tone := audio.Tone(440, 0.25, -6, 44100)
	require.NoError(t, audio.WriteWAV16(wavPath, tone.Left, 44100))

	body, contentType := multipartForm(t, map[string]string{
		"pi":          "C0DE",
		"ps":          "KXYZ",
		"rt":          "Uploaded program",
		"pilot":       "0.09",
		"enable_rds2": "on",
	}, map[string]string{"audio": wavPath})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stream/start", body)
	req.Header.Set("Content-Type", contentType)
	w := d.serve(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	session := decodeBody(t, w)["session"].(map[string]interface{})
	assert.Equal(t, true, session["running"])
	cfg := session["config"].(map[string]interface{})
	source := cfg["source"].(map[string]interface{})
	assert.Equal(t, "file", source["kind"])
	assert.Equal(t, 0.09, cfg["pilot_level"])
	assert.Equal(t, true, cfg["enable_rds2"])

	uploaded := source["path"].(string)
	assert.Equal(t, d.coreEngine.UploadDir(), filepath.Dir(uploaded))
	_, err := os.Stat(uploaded)
	assert.NoError(t, err)

	w = d.serve(httptest.NewRequest(http.MethodGet, "/api/v1/sessions?limit=5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["count"])

	w = d.serve(httptest.NewRequest(http.MethodPost, "/api/v1/stream/stop", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, d.coreEngine.Status().Stream.Running)

	w = d.serve(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["total_sessions"])
}

func TestStartBadForm(t *testing.T) {
	d := newTestDaemon(t)

	for name, fields := range map[string]map[string]string{
		"Bad Rate":  {"fs": "fast"},
		"Bad Pilot": {"pilot": "loud"},
		"Bad PTY":   {"pty": "x"},
	} {
		t.Run(name, func(t *testing.T) {
			body, contentType := multipartForm(t, fields, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/stream/start", body)
			req.Header.Set("Content-Type", contentType)
			w := d.serve(req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	body, contentType := multipartForm(t, map[string]string{"pi": "nothex"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stream/start", body)
	req.Header.Set("Content-Type", contentType)
	w := d.serve(req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "PI")
}

func (d *MPXDaemon) postStart(t *testing.T, fields map[string]string, files map[string]string) map[string]interface{} {
	t.Helper()
	body, contentType := multipartForm(t, fields, files)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stream/start", body)
	req.Header.Set("Content-Type", contentType)
	w := d.serve(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	session := decodeBody(t, w)["session"].(map[string]interface{})
	return session["config"].(map[string]interface{})
}

func TestStartFormTurnsRDS2AndLogoOff(t *testing.T) {
	d := newTestDaemon(t)

	logoPath := filepath.Join(t.TempDir(), "logo.png")
	img := image.NewGray(image.Rect(0, 0, 64, 32))
	for x := 0; x < 32; x++ {
		for y := 0; y < 32; y++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	f, err := os.Create(logoPath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	cfg := d.postStart(t, map[string]string{"enable_rds2": "on"}, map[string]string{"logo": logoPath})
	assert.Equal(t, true, cfg["enable_rds2"])
	assert.NotEmpty(t, cfg["logo_path"])

	// Unchecked box: the field is not sent at all
	cfg = d.postStart(t, map[string]string{"ps": "PLAIN"}, nil)
	assert.Equal(t, false, cfg["enable_rds2"])
	assert.NotEmpty(t, cfg["logo_path"], "logo stays configured for the next RDS2 start")

	cfg = d.postStart(t, map[string]string{"clear_logo": "on"}, nil)
	assert.Equal(t, false, cfg["enable_rds2"])
	assert.NotContains(t, cfg, "logo_path")

	last, err := d.socketClient.Config("last")
	require.NoError(t, err)
	assert.False(t, last.EnableRDS2)
	assert.Empty(t, last.LogoPath)
}
