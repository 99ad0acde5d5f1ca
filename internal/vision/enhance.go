package vision

import (
	"image"

	"github.com/andresmejia3/faceguard/internal/config"
	"gocv.io/x/gocv"
)

// Enhancer prepares CCTV frames for detection: resize to the working
// resolution, CLAHE on the LAB luminance channel, optional colour denoise.
// Not safe for concurrent use; each worker owns one.
type Enhancer struct {
	size     image.Point
	cfg      config.EnhanceConfig
	clahe    gocv.CLAHE
	hasCLAHE bool
}

func NewEnhancer(s config.SamplingConfig, e config.EnhanceConfig) *Enhancer {
	en := &Enhancer{cfg: e}
	if s.Width > 0 && s.Height > 0 {
		en.size = image.Pt(s.Width, s.Height)
	}
	if e.CLAHE {
		tile := e.TileSize
		if tile < 1 {
			tile = 8
		}
		en.clahe = gocv.NewCLAHEWithParams(e.ClipLimit, image.Pt(tile, tile))
		en.hasCLAHE = true
	}
	return en
}

// Apply returns a new Mat; src is left untouched.
func (e *Enhancer) Apply(src gocv.Mat) gocv.Mat {
	out := src.Clone()
	if out.Empty() {
		return out
	}

	if e.size != (image.Point{}) && (out.Cols() != e.size.X || out.Rows() != e.size.Y) {
		resized := gocv.NewMat()
		gocv.Resize(out, &resized, e.size, 0, 0, gocv.InterpolationLinear)
		out.Close()
		out = resized
	}

	if e.hasCLAHE && out.Channels() == 3 {
		lab := gocv.NewMat()
		gocv.CvtColor(out, &lab, gocv.ColorBGRToLab)
		channels := gocv.Split(lab)
		equalized := gocv.NewMat()
		e.clahe.Apply(channels[0], &equalized)
		channels[0].Close()
		channels[0] = equalized
		gocv.Merge(channels, &lab)
		for _, c := range channels {
			c.Close()
		}
		gocv.CvtColor(lab, &out, gocv.ColorLabToBGR)
		lab.Close()
	}

	if e.cfg.Denoise && out.Channels() == 3 {
		denoised := gocv.NewMat()
		h := float32(e.cfg.DenoiseH)
		gocv.FastNlMeansDenoisingColoredWithParams(out, &denoised, h, h, 7, 21)
		out.Close()
		out = denoised
	}
	return out
}

func (e *Enhancer) Close() error {
	if e.hasCLAHE {
		e.hasCLAHE = false
		return e.clahe.Close()
	}
	return nil
}
