package worker

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/andresmejia3/faceguard/internal/config"
	"github.com/andresmejia3/faceguard/internal/types"
	"github.com/andresmejia3/faceguard/internal/vision"
	"gocv.io/x/gocv"
)

// FaceDetector is the part of vision.TieredDetector an Engine needs.
type FaceDetector interface {
	Detect(frame gocv.Mat) []types.Detection
	Close() error
}

// FrameResult is what a worker hands to the aggregator for one frame.
type FrameResult struct {
	Index      int
	Name       string
	Detections []types.Detection
	Encodings  []types.Encoded
	Width      int // of the frame the boxes refer to
	Height     int
	Err        error // decode failure, the frame is skipped
}

// Engine owns one detector, one encoder and one enhancer. OpenCV objects are
// not shared across goroutines, so every worker builds its own Engine.
type Engine struct {
	ID       int
	Detector FaceDetector
	Encoder  vision.Encoder
	Enhancer *vision.Enhancer // nil skips resize and contrast enhancement
	DebugDir string           // when set, annotated frames with faces are written here
}

// Options control how a Factory builds engines.
type Options struct {
	Enhance  bool
	DebugDir string
	Remote   vision.RemoteDetector
}

// Processor handles frames for a single goroutine. *Engine is the production
// implementation.
type Processor interface {
	ProcessFrame(task types.FrameTask) FrameResult
	Close()
}

// Factory builds a fresh Processor for worker id.
type Factory func(id int) (Processor, error)

// NewFactory returns a Factory whose engines all encode with method.
func NewFactory(cfg *config.Config, method types.EncodingMethod, opts Options) Factory {
	return func(id int) (Processor, error) {
		enc, err := vision.NewEncoderFor(cfg, method)
		if err != nil {
			return nil, fmt.Errorf("engine %d failed to load encoder: %w", id, err)
		}
		e := &Engine{
			ID:       id,
			Detector: vision.NewDetector(cfg, method, opts.Remote),
			Encoder:  enc,
			DebugDir: opts.DebugDir,
		}
		if opts.Enhance {
			e.Enhancer = vision.NewEnhancer(cfg.Sampling, cfg.Enhance)
		}
		return e, nil
	}
}

// ProcessFrame decodes, enhances, detects and encodes one frame.
func (e *Engine) ProcessFrame(task types.FrameTask) FrameResult {
	res := FrameResult{Index: task.Index, Name: task.Name}

	frame, err := vision.Decode(task.Data)
	if err != nil {
		res.Err = err
		return res
	}
	defer frame.Close()

	if e.Enhancer != nil {
		enhanced := e.Enhancer.Apply(frame)
		frame.Close()
		frame = enhanced
	}

	res.Width, res.Height = frame.Cols(), frame.Rows()
	res.Detections = e.Detector.Detect(frame)
	if len(res.Detections) > 0 {
		res.Encodings = e.Encoder.Encode(frame, res.Detections)
		if e.DebugDir != "" {
			e.writeDebugFrame(frame, task.Index, res.Detections)
		}
	}
	return res
}

func (e *Engine) writeDebugFrame(frame gocv.Mat, index int, dets []types.Detection) {
	annotated := frame.Clone()
	defer annotated.Close()

	green := color.RGBA{0, 255, 0, 0}
	for _, d := range dets {
		gocv.Rectangle(&annotated, image.Rect(d.Left, d.Top, d.Right, d.Bottom), green, 2)
		gocv.PutText(&annotated, fmt.Sprintf("%s %.2f", d.Source, d.Confidence),
			image.Pt(d.Left, max(d.Top-5, 10)), gocv.FontHersheyPlain, 1.0, green, 1)
	}
	_ = os.MkdirAll(e.DebugDir, 0755)
	gocv.IMWrite(filepath.Join(e.DebugDir, fmt.Sprintf("frame_%06d.jpg", index)), annotated)
}

// Close releases the engine's models. Safe to call more than once.
func (e *Engine) Close() {
	if e.Detector != nil {
		e.Detector.Close()
		e.Detector = nil
	}
	if e.Encoder != nil {
		e.Encoder.Close()
		e.Encoder = nil
	}
	if e.Enhancer != nil {
		e.Enhancer.Close()
		e.Enhancer = nil
	}
}
