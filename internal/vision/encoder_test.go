package vision

import (
	"testing"

	"github.com/andresmejia3/faceguard/internal/config"
	"github.com/andresmejia3/faceguard/internal/types"
	"gocv.io/x/gocv"
)

func TestDescriptorEncoderSkipsDegenerateCrops(t *testing.T) {
	frame := checkerMat(120, 120, 8)
	defer frame.Close()

	enc := NewDescriptorEncoder(256, 128)
	defer enc.Close()

	dets := []types.Detection{
		box(10, 60, 60, 10),
		box(20, 20, 40, 20),     // zero width
		box(200, 260, 260, 200), // outside the frame
		box(50, 110, 110, 50),
	}
	got := enc.Encode(frame, dets)
	if len(got) != 2 {
		t.Fatalf("Expected 2 encodings, got %d", len(got))
	}
	if got[0].Index != 0 || got[1].Index != 3 {
		t.Errorf("Expected indices [0 3], got [%d %d]", got[0].Index, got[1].Index)
	}
	for _, e := range got {
		if e.Encoding.Method != types.MethodDescriptor {
			t.Errorf("Expected descriptor method, got %s", e.Encoding.Method)
		}
		if len(e.Encoding.Vector) != 128 {
			t.Errorf("Expected 128 values, got %d", len(e.Encoding.Vector))
		}
	}
}

func TestNewEncoderFallsBackToDescriptor(t *testing.T) {
	cfg := config.Default()
	cfg.Models.Embedding = "/nonexistent/arcface.onnx"

	enc := NewEncoder(cfg)
	defer enc.Close()
	if enc.Method() != types.MethodDescriptor {
		t.Errorf("Expected descriptor fallback, got %s", enc.Method())
	}
}

func TestNewDetectorWithoutModels(t *testing.T) {
	cfg := config.Default()
	cfg.Models.Dir = t.TempDir()

	d := NewDetector(cfg, types.MethodModel, nil)
	defer d.Close()
	if len(d.Tiers()) != 0 {
		t.Errorf("Expected every tier to be excluded, got %v", d.Tiers())
	}

	frame := noiseMat(60, 60)
	defer frame.Close()
	if got := d.Detect(frame); len(got) != 0 {
		t.Errorf("Expected no detections, got %+v", got)
	}
}

func TestL2Normalize(t *testing.T) {
	v := l2Normalize([]float64{3, 4})
	if v[0] != 0.6 || v[1] != 0.8 {
		t.Errorf("Expected [0.6 0.8], got %v", v)
	}
	zero := l2Normalize([]float64{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("Expected zero vector untouched, got %v", zero)
	}
}

func TestEnhancerResizesAndKeepsSource(t *testing.T) {
	src := noiseMat(240, 320)
	defer src.Close()

	e := NewEnhancer(config.SamplingConfig{Width: 640, Height: 480}, config.EnhanceConfig{CLAHE: true, ClipLimit: 2.0, TileSize: 8})
	defer e.Close()

	out := e.Apply(src)
	defer out.Close()
	if out.Cols() != 640 || out.Rows() != 480 {
		t.Errorf("Expected 640x480, got %dx%d", out.Cols(), out.Rows())
	}
	if out.Channels() != 3 {
		t.Errorf("Expected 3 channels, got %d", out.Channels())
	}
	if src.Cols() != 320 || src.Rows() != 240 {
		t.Error("Source frame must not be modified")
	}
}

func TestEnhancerKeepsSizeWhenDisabled(t *testing.T) {
	src := noiseMat(100, 150)
	defer src.Close()

	e := NewEnhancer(config.SamplingConfig{}, config.EnhanceConfig{})
	defer e.Close()

	out := e.Apply(src)
	defer out.Close()
	if out.Cols() != 150 || out.Rows() != 100 {
		t.Errorf("Expected source size to be kept, got %dx%d", out.Cols(), out.Rows())
	}
}

func TestEnhancerEmptyFrame(t *testing.T) {
	e := NewEnhancer(config.SamplingConfig{Width: 64, Height: 48}, config.EnhanceConfig{CLAHE: true, ClipLimit: 2})
	defer e.Close()

	empty := gocv.NewMat()
	defer empty.Close()
	out := e.Apply(empty)
	defer out.Close()
	if !out.Empty() {
		t.Error("Expected an empty result for an empty frame")
	}
}
