package vision

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 4), 50, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	m, err := Decode(pngBytes(t, 32, 24))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	defer m.Close()
	if m.Cols() != 32 || m.Rows() != 24 || m.Channels() != 3 {
		t.Errorf("Expected 32x24x3, got %dx%dx%d", m.Cols(), m.Rows(), m.Channels())
	}
}

func TestDecodeErrors(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":   nil,
		"garbage": []byte("definitely not an image"),
	} {
		t.Run(name, func(t *testing.T) {
			m, err := Decode(data)
			defer m.Close()
			if !errors.Is(err, ErrDecode) {
				t.Errorf("Expected ErrDecode, got %v", err)
			}
		})
	}
}

func TestEncodeJPEGRoundTrip(t *testing.T) {
	src := noiseMat(40, 30)
	defer src.Close()

	data, err := EncodeJPEG(src)
	if err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Fatal("Expected JPEG start-of-image marker")
	}
	m, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	defer m.Close()
	if m.Cols() != 30 || m.Rows() != 40 {
		t.Errorf("Expected 30x40, got %dx%d", m.Cols(), m.Rows())
	}
}
