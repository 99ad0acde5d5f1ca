package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/andresmejia3/faceguard/internal/config"
	"github.com/andresmejia3/faceguard/internal/enroll"
	"github.com/andresmejia3/faceguard/internal/types"
)

func TestValidateAnalyzeFlags(t *testing.T) {
	tmp := t.TempDir()
	video := filepath.Join(tmp, "clip.mp4")
	if err := os.WriteFile(video, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	enrollDir := filepath.Join(tmp, "known")
	framesDir := filepath.Join(tmp, "frames")
	for _, d := range []string{enrollDir, framesDir} {
		if err := os.Mkdir(d, 0755); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{"video ok", Options{VideoPath: video, EnrollDir: enrollDir}, ""},
		{"frames ok", Options{FramesDir: framesDir, EnrollDir: enrollDir, Method: "descriptor"}, ""},
		{"no input", Options{EnrollDir: enrollDir}, "exactly one"},
		{"both inputs", Options{VideoPath: video, FramesDir: framesDir, EnrollDir: enrollDir}, "exactly one"},
		{"missing video", Options{VideoPath: filepath.Join(tmp, "nope.mp4"), EnrollDir: enrollDir}, "unable to access"},
		{"video is dir", Options{VideoPath: framesDir, EnrollDir: enrollDir}, "directory"},
		{"frames is file", Options{FramesDir: video, EnrollDir: enrollDir}, "not a directory"},
		{"missing enroll", Options{VideoPath: video, EnrollDir: filepath.Join(tmp, "gone")}, "enrollment"},
		{"negative nth", Options{VideoPath: video, EnrollDir: enrollDir, NthFrame: -1}, "negative"},
		{"bad method", Options{VideoPath: video, EnrollDir: enrollDir, Method: "magic"}, "unknown encoding method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			err := validateAnalyzeFlags(&opts)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestApplyOptions(t *testing.T) {
	prev := Cfg
	t.Cleanup(func() { Cfg = prev })
	Cfg = config.Default()
	defaultEngines := Cfg.Engines

	opts := Options{NthFrame: 10, MaxFrames: 20, Denoise: true}
	applyOptions(&opts)

	if Cfg.Sampling.NthFrame != 10 || Cfg.Sampling.MaxFrames != 20 {
		t.Errorf("sampling overrides not applied: %+v", Cfg.Sampling)
	}
	if !Cfg.Enhance.Denoise {
		t.Error("expected denoise to be enabled")
	}
	if opts.NumEngines != defaultEngines {
		t.Errorf("expected engines to fall back to %d, got %d", defaultEngines, opts.NumEngines)
	}

	opts = Options{NumEngines: 3}
	applyOptions(&opts)
	if Cfg.Engines != 3 || opts.NumEngines != 3 {
		t.Errorf("engine override not applied: cfg=%d opts=%d", Cfg.Engines, opts.NumEngines)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := confirm(strings.NewReader(tt.input), "continue?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	in := map[string]any{"run_id": "abc", "anomalies": 2}
	if err := writeJSON(path, in); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if out["run_id"] != "abc" || out["anomalies"] != float64(2) {
		t.Errorf("unexpected round trip: %v", out)
	}
}

func TestChooseMethod(t *testing.T) {
	cfg := config.Default()
	for _, m := range []string{"model", "descriptor"} {
		got, err := chooseMethod(cfg, m)
		if err != nil || string(got) != m {
			t.Errorf("chooseMethod(%q) = %q, %v", m, got, err)
		}
	}
	if _, err := chooseMethod(cfg, "bogus"); err == nil {
		t.Error("expected error for unknown method")
	}
}

func TestRemoteDetectorUnconfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Remote.URL = ""
	rd, rc := remoteDetector(cfg)
	if rd != nil || rc != nil {
		t.Errorf("expected no remote detector, got %v %v", rd, rc)
	}
}

func TestEnrollIdentitiesNeverCallsRemote(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":[{"box":{"probability":0.99,"x_min":1,"y_min":1,"x_max":30,"y_max":30}}]}`))
	}))
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "alice")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 251)
	}
	img.Set(0, 0, color.Gray{Y: 255})
	f, err := os.Create(filepath.Join(dir, "front.png"))
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cfg := config.Default()
	cfg.Models.Dir = t.TempDir() // no local models, so no local tier finds a face
	cfg.Remote.URL = srv.URL

	opts := Options{EnrollDir: filepath.Dir(dir), NumEngines: 1}
	_, err = enrollIdentities(context.Background(), cfg, opts, types.MethodDescriptor)
	if !errors.Is(err, enroll.ErrEnrollmentEmpty) {
		t.Errorf("Expected ErrEnrollmentEmpty without local tiers, got %v", err)
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("Enrollment must not contact the remote service, got %d requests", n)
	}
}
