package vision

import (
	"fmt"
	"image"
	"os"

	"github.com/andresmejia3/faceguard/internal/types"
	"gocv.io/x/gocv"
)

const ssdInputSize = 300

// DNNTier runs the res10 SSD face detector over the whole frame.
type DNNTier struct {
	net        gocv.Net
	confidence float32
}

func NewDNNTier(prototxt, weights string, confidence float64) (*DNNTier, error) {
	for _, p := range []string{prototxt, weights} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, p, err)
		}
	}

	net := gocv.ReadNetFromCaffe(prototxt, weights)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("%w: failed to load SSD model from %s", ErrModelUnavailable, weights)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &DNNTier{net: net, confidence: float32(confidence)}, nil
}

func (t *DNNTier) Name() string { return "dnn" }

func (t *DNNTier) Detect(frame gocv.Mat) ([]types.Detection, error) {
	blob := gocv.BlobFromImage(frame, 1.0, image.Pt(ssdInputSize, ssdInputSize),
		gocv.NewScalar(104, 117, 123, 0), false, false)
	defer blob.Close()

	t.net.SetInput(blob, "")
	out := t.net.Forward("")
	defer out.Close()

	// Output is 1x1xNx7: [image_id, label, confidence, x1, y1, x2, y2] normalized.
	rows := gocv.GetBlobChannel(out, 0, 0)
	defer rows.Close()

	w, h := float32(frame.Cols()), float32(frame.Rows())
	var dets []types.Detection
	for r := 0; r < rows.Rows(); r++ {
		conf := rows.GetFloatAt(r, 2)
		if conf <= t.confidence {
			continue
		}
		dets = append(dets, types.Detection{
			Left:       int(rows.GetFloatAt(r, 3) * w),
			Top:        int(rows.GetFloatAt(r, 4) * h),
			Right:      int(rows.GetFloatAt(r, 5) * w),
			Bottom:     int(rows.GetFloatAt(r, 6) * h),
			Confidence: float64(conf),
		})
	}
	return dets, nil
}

func (t *DNNTier) Close() error {
	return t.net.Close()
}
