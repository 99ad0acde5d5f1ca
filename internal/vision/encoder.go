package vision

import (
	"fmt"
	"image"
	"math"
	"os"

	"github.com/andresmejia3/faceguard/internal/config"
	"github.com/andresmejia3/faceguard/internal/logger"
	"github.com/andresmejia3/faceguard/internal/types"
	"gocv.io/x/gocv"
)

// Encoder turns detected faces into encodings. Exactly one implementation is
// chosen per run so every encoding of that run shares a method.
type Encoder interface {
	Method() types.EncodingMethod
	// Encode returns one entry per usable detection, tagged with the
	// detection's index. Degenerate crops are skipped.
	Encode(frame gocv.Mat, dets []types.Detection) []types.Encoded
	Close() error
}

// NewEncoder prefers the trained embedding model and falls back to the
// descriptor extractor when the model is not configured or fails to load.
func NewEncoder(cfg *config.Config) Encoder {
	if cfg.Models.Embedding != "" {
		enc, err := NewModelEncoder(cfg.ModelPath(cfg.Models.Embedding), cfg.Models.EmbeddingInput, cfg.Models.EmbeddingLength)
		if err == nil {
			return enc
		}
		logger.Warning("embedding model unavailable, using descriptor encodings", logger.LoggerOptions{Key: "error", Data: err.Error()})
	}
	return NewDescriptorEncoder(cfg.Encoding.DescriptorFeatures, cfg.Encoding.DescriptorSize)
}

// NewEncoderFor builds the encoder for a method already chosen for the run.
// Unlike NewEncoder it never switches methods.
func NewEncoderFor(cfg *config.Config, method types.EncodingMethod) (Encoder, error) {
	switch method {
	case types.MethodModel:
		return NewModelEncoder(cfg.ModelPath(cfg.Models.Embedding), cfg.Models.EmbeddingInput, cfg.Models.EmbeddingLength)
	case types.MethodDescriptor:
		return NewDescriptorEncoder(cfg.Encoding.DescriptorFeatures, cfg.Encoding.DescriptorSize), nil
	}
	return nil, fmt.Errorf("unknown encoding method %q", method)
}

// DescriptorEncoder crops each face and runs the descriptor extractor on it.
type DescriptorEncoder struct {
	extractor *DescriptorExtractor
	size      int
}

func NewDescriptorEncoder(features, size int) *DescriptorEncoder {
	return &DescriptorEncoder{extractor: NewDescriptorExtractor(features), size: size}
}

func (e *DescriptorEncoder) Method() types.EncodingMethod { return types.MethodDescriptor }

func (e *DescriptorEncoder) Encode(frame gocv.Mat, dets []types.Detection) []types.Encoded {
	out := make([]types.Encoded, 0, len(dets))
	for i, det := range dets {
		crop, ok := cropFace(frame, det)
		if !ok {
			continue
		}
		vec := e.extractor.Extract(crop, e.size)
		crop.Close()
		out = append(out, types.Encoded{Index: i, Encoding: types.Encoding{Vector: vec, Method: types.MethodDescriptor}})
	}
	return out
}

func (e *DescriptorEncoder) Close() error {
	return e.extractor.Close()
}

// ModelEncoder runs an ArcFace-style embedding network on each face crop.
type ModelEncoder struct {
	net       gocv.Net
	inputSize image.Point
	length    int
}

func NewModelEncoder(path string, input, length int) (*ModelEncoder, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, path, err)
	}
	net := gocv.ReadNet(path, "")
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("%w: failed to load embedding model from %s", ErrModelUnavailable, path)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	logger.Info("embedding model loaded", logger.LoggerOptions{
		Key:  "model_info",
		Data: map[string]interface{}{"path": path, "input": input, "length": length},
	})
	return &ModelEncoder{net: net, inputSize: image.Pt(input, input), length: length}, nil
}

func (e *ModelEncoder) Method() types.EncodingMethod { return types.MethodModel }

func (e *ModelEncoder) Encode(frame gocv.Mat, dets []types.Detection) []types.Encoded {
	out := make([]types.Encoded, 0, len(dets))
	for i, det := range dets {
		crop, ok := cropFace(frame, det)
		if !ok {
			continue
		}
		vec := e.embed(crop)
		crop.Close()
		if vec == nil {
			continue
		}
		out = append(out, types.Encoded{Index: i, Encoding: types.Encoding{Vector: vec, Method: types.MethodModel}})
	}
	return out
}

func (e *ModelEncoder) embed(face gocv.Mat) []float64 {
	blob := gocv.BlobFromImage(face, 1.0/127.5, e.inputSize, gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	e.net.SetInput(blob, "")
	output := e.net.Forward("")
	defer output.Close()

	n := min(output.Total(), e.length)
	if n == 0 {
		return nil
	}
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = float64(output.GetFloatAt(0, i))
	}
	return l2Normalize(vec)
}

func (e *ModelEncoder) Close() error {
	return e.net.Close()
}

// cropFace returns a view of the detection region. The caller closes it.
func cropFace(frame gocv.Mat, det types.Detection) (gocv.Mat, bool) {
	det = det.Clip(frame.Cols(), frame.Rows())
	if det.Area() <= 0 || det.Degenerate() {
		return gocv.Mat{}, false
	}
	return frame.Region(image.Rect(det.Left, det.Top, det.Right, det.Bottom)), true
}

func l2Normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] /= norm
	}
	return v
}
