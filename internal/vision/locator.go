package vision

import (
	"fmt"
	"image"
	"os"

	"github.com/andresmejia3/faceguard/internal/types"
	"gocv.io/x/gocv"
)

// LocatorTier wraps the YuNet localizer that ships with the trained
// embedding path. It is only built when the embedding model loaded.
type LocatorTier struct {
	detector gocv.FaceDetectorYN
}

func NewLocatorTier(modelPath string, confidence float64) (*LocatorTier, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, modelPath, err)
	}
	detector := gocv.NewFaceDetectorYN(modelPath, "", image.Pt(320, 320))
	detector.SetScoreThreshold(float32(confidence))
	detector.SetNMSThreshold(0.3)
	detector.SetTopK(5000)
	return &LocatorTier{detector: detector}, nil
}

func (t *LocatorTier) Name() string { return "locator" }

func (t *LocatorTier) Detect(frame gocv.Mat) ([]types.Detection, error) {
	t.detector.SetInputSize(image.Pt(frame.Cols(), frame.Rows()))

	faces := gocv.NewMat()
	defer faces.Close()
	t.detector.Detect(frame, &faces)

	if faces.Empty() {
		return nil, nil
	}

	// Each row: x, y, w, h, 5 landmark pairs, score.
	dets := make([]types.Detection, 0, faces.Rows())
	for i := 0; i < faces.Rows(); i++ {
		x := int(faces.GetFloatAt(i, 0))
		y := int(faces.GetFloatAt(i, 1))
		w := int(faces.GetFloatAt(i, 2))
		h := int(faces.GetFloatAt(i, 3))
		dets = append(dets, types.Detection{
			Top:        y,
			Right:      x + w,
			Bottom:     y + h,
			Left:       x,
			Confidence: float64(faces.GetFloatAt(i, 14)),
		})
	}
	return dets, nil
}

func (t *LocatorTier) Close() error {
	t.detector.Close()
	return nil
}
