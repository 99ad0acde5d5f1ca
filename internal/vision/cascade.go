package vision

import (
	"fmt"
	"image"
	"os"

	"github.com/andresmejia3/faceguard/internal/types"
	"gocv.io/x/gocv"
)

// Haar cascades carry no score; their hits are reported at this confidence.
const cascadeConfidence = 1.0

// CascadeTier is the classical fallback. It works on an equalized grayscale
// frame with parameters that favour recall.
type CascadeTier struct {
	classifier gocv.CascadeClassifier
	scale      float64
	neighbors  int
	minSize    image.Point
}

func NewCascadeTier(path string, scale float64, neighbors, minSize int) (*CascadeTier, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, path, err)
	}
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("%w: failed to load cascade from %s", ErrModelUnavailable, path)
	}
	return &CascadeTier{
		classifier: classifier,
		scale:      scale,
		neighbors:  neighbors,
		minSize:    image.Pt(minSize, minSize),
	}, nil
}

func (t *CascadeTier) Name() string { return "cascade" }

func (t *CascadeTier) Detect(frame gocv.Mat) ([]types.Detection, error) {
	gray := toGray(frame)
	defer gray.Close()
	gocv.EqualizeHist(gray, &gray)

	rects := t.classifier.DetectMultiScaleWithParams(gray, t.scale, t.neighbors, 0, t.minSize, image.Pt(0, 0))
	dets := make([]types.Detection, 0, len(rects))
	for _, r := range rects {
		dets = append(dets, fromRect(r, cascadeConfidence))
	}
	return dets, nil
}

func (t *CascadeTier) Close() error {
	return t.classifier.Close()
}

func fromRect(r image.Rectangle, confidence float64) types.Detection {
	return types.Detection{
		Top:        r.Min.Y,
		Right:      r.Max.X,
		Bottom:     r.Max.Y,
		Left:       r.Min.X,
		Confidence: confidence,
	}
}
