package worker

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/faceguard/internal/types"
	"github.com/andresmejia3/faceguard/internal/vision"
	"gocv.io/x/gocv"
)

// MockDetector returns fixed boxes and remembers the frame size it saw.
type MockDetector struct {
	Dets       []types.Detection
	SeenWidth  int
	SeenHeight int
	Closed     bool
}

func (m *MockDetector) Detect(frame gocv.Mat) []types.Detection {
	m.SeenWidth, m.SeenHeight = frame.Cols(), frame.Rows()
	return m.Dets
}

func (m *MockDetector) Close() error {
	m.Closed = true
	return nil
}

func jpegFrame(t *testing.T, rows, cols int) []byte {
	t.Helper()
	m := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC3)
	defer m.Close()
	gocv.RandU(&m, gocv.NewScalar(0, 0, 0, 0), gocv.NewScalar(255, 255, 255, 0))
	data, err := vision.EncodeJPEG(m)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestProcessFrame(t *testing.T) {
	det := &MockDetector{Dets: []types.Detection{
		{Top: 10, Right: 70, Bottom: 70, Left: 10, Confidence: 0.9, Source: "mock"},
		{Top: 5, Right: 5, Bottom: 9, Left: 5}, // zero width, encoder skips it
	}}
	w := &Engine{ID: 1, Detector: det, Encoder: vision.NewDescriptorEncoder(256, 128)}
	defer w.Close()

	res := w.ProcessFrame(types.FrameTask{Index: 15, Data: jpegFrame(t, 100, 120)})
	if res.Err != nil {
		t.Fatalf("ProcessFrame failed: %v", res.Err)
	}
	if res.Index != 15 {
		t.Errorf("Expected index 15, got %d", res.Index)
	}
	if len(res.Detections) != 2 {
		t.Fatalf("Expected 2 detections, got %d", len(res.Detections))
	}
	if len(res.Encodings) != 1 || res.Encodings[0].Index != 0 {
		t.Fatalf("Expected a single encoding for detection 0, got %+v", res.Encodings)
	}
	if det.SeenWidth != 120 || det.SeenHeight != 100 {
		t.Errorf("Detector should see the source size without an enhancer, saw %dx%d", det.SeenWidth, det.SeenHeight)
	}

	w.Close()
	if !det.Closed {
		t.Error("Expected Close to release the detector")
	}
}

func TestProcessFrame_DecodeError(t *testing.T) {
	det := &MockDetector{}
	w := &Engine{ID: 1, Detector: det, Encoder: vision.NewDescriptorEncoder(256, 128)}
	defer w.Close()

	res := w.ProcessFrame(types.FrameTask{Index: 5, Data: []byte("frame")})
	if !errors.Is(res.Err, vision.ErrDecode) {
		t.Fatalf("Expected ErrDecode, got %v", res.Err)
	}
	if res.Index != 5 {
		t.Errorf("Expected the failed frame to keep its index, got %d", res.Index)
	}
}

func TestProcessFrame_DebugFrames(t *testing.T) {
	dir := t.TempDir()
	det := &MockDetector{Dets: []types.Detection{{Top: 10, Right: 50, Bottom: 50, Left: 10, Confidence: 0.8, Source: "mock"}}}
	w := &Engine{ID: 2, Detector: det, Encoder: vision.NewDescriptorEncoder(256, 128), DebugDir: dir}
	defer w.Close()

	w.ProcessFrame(types.FrameTask{Index: 3, Data: jpegFrame(t, 64, 64)})

	if _, err := os.Stat(filepath.Join(dir, "frame_000003.jpg")); err != nil {
		t.Errorf("Expected debug frame to be written: %v", err)
	}
}
