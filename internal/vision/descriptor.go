package vision

import (
	"image"
	"math"

	"github.com/andresmejia3/faceguard/internal/logger"
	"gocv.io/x/gocv"
)

// ORB cannot place keypoints inside its 31px edge border, so smaller crops go
// straight to the pixel grid.
const orbMinSide = 32

// DescriptorExtractor computes a fixed-length vector from a face crop when no
// trained embedding model is present. ORB descriptors are averaged column-wise;
// crops without keypoints fall back to a downsampled intensity grid.
type DescriptorExtractor struct {
	orb gocv.ORB
}

func NewDescriptorExtractor(features int) *DescriptorExtractor {
	if features < 1 {
		features = 256
	}
	return &DescriptorExtractor{
		orb: gocv.NewORBWithParams(features, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20),
	}
}

// Extract always returns exactly size values.
func (d *DescriptorExtractor) Extract(face gocv.Mat, size int) []float64 {
	if size < 1 {
		return nil
	}
	if face.Empty() {
		return make([]float64, size)
	}
	if !supportedCrop(face) {
		logger.Warning("unsupported crop format, returning zero vector",
			logger.LoggerOptions{Key: "channels", Data: face.Channels()},
			logger.LoggerOptions{Key: "type", Data: int(face.Type())})
		return make([]float64, size)
	}

	gray := toGray(face)
	defer gray.Close()

	if gray.Rows() >= orbMinSide && gray.Cols() >= orbMinSide {
		if vec, ok := d.keypointVector(gray, size); ok {
			return vec
		}
	}
	return pixelVector(gray, size)
}

// supportedCrop reports whether the OpenCV calls below accept the crop:
// 8-bit depth with 1, 3 or 4 channels.
func supportedCrop(m gocv.Mat) bool {
	switch m.Channels() {
	case 1, 3, 4:
	default:
		return false
	}
	return m.Type()&7 == gocv.MatTypeCV8U
}

// keypointVector reports false when no descriptors were found.
func (d *DescriptorExtractor) keypointVector(gray gocv.Mat, size int) ([]float64, bool) {
	mask := gocv.NewMat()
	defer mask.Close()
	kps, desc := d.orb.DetectAndCompute(gray, mask)
	defer desc.Close()

	if len(kps) == 0 || desc.Empty() || desc.Rows() == 0 {
		return nil, false
	}

	rows, cols := desc.Rows(), desc.Cols()
	mean := make([]float64, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			mean[c] += float64(desc.GetUCharAt(r, c))
		}
	}
	for c := range mean {
		mean[c] = mean[c] / float64(rows) / 255.0
	}
	return fitLength(mean, size), true
}

func (d *DescriptorExtractor) Close() error {
	return d.orb.Close()
}

// pixelVector flattens the smallest square grid whose area covers size.
func pixelVector(gray gocv.Mat, size int) []float64 {
	if gray.Empty() {
		return make([]float64, size)
	}

	dim := int(math.Ceil(math.Sqrt(float64(size))))
	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(gray, &small, image.Pt(dim, dim), 0, 0, gocv.InterpolationArea)

	flat := make([]float64, 0, dim*dim)
	for r := 0; r < small.Rows(); r++ {
		for c := 0; c < small.Cols(); c++ {
			flat = append(flat, float64(small.GetUCharAt(r, c))/255.0)
		}
	}
	return fitLength(flat, size)
}

// fitLength zero-pads or truncates v to exactly size values.
func fitLength(v []float64, size int) []float64 {
	out := make([]float64, size)
	copy(out, v)
	return out
}

func toGray(src gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	switch src.Channels() {
	case 1:
		src.CopyTo(&gray)
	case 4:
		gocv.CvtColor(src, &gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	}
	return gray
}
