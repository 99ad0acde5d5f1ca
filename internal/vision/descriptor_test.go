package vision

import (
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"
)

func noiseMat(rows, cols int) gocv.Mat {
	m := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC3)
	gocv.RandU(&m, gocv.NewScalar(0, 0, 0, 0), gocv.NewScalar(255, 255, 255, 0))
	return m
}

func checkerMat(rows, cols, cell int) gocv.Mat {
	m := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC3)
	white := color.RGBA{255, 255, 255, 0}
	for y := 0; y < rows; y += cell {
		for x := 0; x < cols; x += cell {
			if (x/cell+y/cell)%2 == 0 {
				gocv.Rectangle(&m, image.Rect(x, y, x+cell, y+cell), white, -1)
			}
		}
	}
	return m
}

func TestExtractAlwaysReturnsRequestedSize(t *testing.T) {
	ex := NewDescriptorExtractor(256)
	defer ex.Close()

	tests := []struct {
		name string
		mat  func() gocv.Mat
		size int
	}{
		{"textured face", func() gocv.Mat { return checkerMat(160, 160, 10) }, 128},
		{"noise", func() gocv.Mat { return noiseMat(120, 90) }, 128},
		{"flat image has no keypoints", func() gocv.Mat { return gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3) }, 128},
		{"tiny crop", func() gocv.Mat { return noiseMat(3, 3) }, 128},
		{"single pixel", func() gocv.Mat { return noiseMat(1, 1) }, 16},
		{"grayscale input", func() gocv.Mat { return gocv.NewMatWithSize(40, 40, gocv.MatTypeCV8UC1) }, 64},
		{"size larger than grid", func() gocv.Mat { return checkerMat(100, 100, 5) }, 300},
		{"empty mat", func() gocv.Mat { return gocv.NewMat() }, 128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.mat()
			defer m.Close()

			vec := ex.Extract(m, tt.size)
			if len(vec) != tt.size {
				t.Fatalf("Expected %d values, got %d", tt.size, len(vec))
			}
			for i, v := range vec {
				if v < 0 || v > 1 {
					t.Fatalf("Value %d out of [0,1]: %f", i, v)
				}
			}
		})
	}
}

func TestExtractKeypointPathPadsDescriptorMean(t *testing.T) {
	ex := NewDescriptorExtractor(256)
	defer ex.Close()

	m := checkerMat(200, 200, 12)
	defer m.Close()

	vec := ex.Extract(m, 128)
	// ORB descriptors are 32 bytes wide, the rest is zero padding.
	for i := 32; i < len(vec); i++ {
		if vec[i] != 0 {
			t.Fatalf("Expected zero padding after the descriptor mean, got %f at %d", vec[i], i)
		}
	}
	var sum float64
	for _, v := range vec[:32] {
		sum += v
	}
	if sum == 0 {
		t.Error("Expected a non-zero descriptor mean for a textured image")
	}
}

func TestPixelVectorFlatImage(t *testing.T) {
	gray := gocv.NewMatWithSize(50, 50, gocv.MatTypeCV8UC1)
	defer gray.Close()
	gray.SetTo(gocv.NewScalar(255, 0, 0, 0))

	vec := pixelVector(gray, 128)
	if len(vec) != 128 {
		t.Fatalf("Expected 128 values, got %d", len(vec))
	}
	for i, v := range vec {
		if v < 0.99 {
			t.Fatalf("Expected white pixels to map to ~1.0, got %f at %d", v, i)
		}
	}
}

func TestFitLength(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		size int
		want []float64
	}{
		{"pad", []float64{1, 2}, 4, []float64{1, 2, 0, 0}},
		{"truncate", []float64{1, 2, 3, 4, 5}, 3, []float64{1, 2, 3}},
		{"exact", []float64{1, 2}, 2, []float64{1, 2}},
		{"empty", nil, 2, []float64{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fitLength(tt.in, tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestExtractUnsupportedCropReturnsZeros(t *testing.T) {
	ex := NewDescriptorExtractor(256)
	defer ex.Close()

	tests := []struct {
		name string
		typ  gocv.MatType
	}{
		{"float depth", gocv.MatTypeCV32FC3},
		{"16-bit depth", gocv.MatTypeCV16UC1},
		{"two channels", gocv.MatTypeCV8UC2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := gocv.NewMatWithSize(64, 64, tt.typ)
			defer m.Close()
			m.SetTo(gocv.NewScalar(1, 1, 1, 0))

			vec := ex.Extract(m, 32)
			if len(vec) != 32 {
				t.Fatalf("Expected 32 values, got %d", len(vec))
			}
			for i, v := range vec {
				if v != 0 {
					t.Fatalf("Expected a zero vector, value %d is %f", i, v)
				}
			}
		})
	}
}

func TestSupportedCrop(t *testing.T) {
	for _, typ := range []gocv.MatType{gocv.MatTypeCV8UC1, gocv.MatTypeCV8UC3, gocv.MatTypeCV8UC4} {
		m := gocv.NewMatWithSize(4, 4, typ)
		if !supportedCrop(m) {
			t.Errorf("Expected type %d to be supported", typ)
		}
		m.Close()
	}
}
