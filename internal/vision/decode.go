package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Decode turns encoded image bytes into a BGR Mat owned by the caller.
// OpenCV handles the common formats; anything it rejects goes through the Go
// image decoders (webp and bmp builds of OpenCV are not guaranteed).
func Decode(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), fmt.Errorf("%w: empty buffer", ErrDecode)
	}

	m, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err == nil && !m.Empty() {
		return m, nil
	}
	if err == nil {
		m.Close()
	}

	img, _, derr := image.Decode(bytes.NewReader(data))
	if derr != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrDecode, derr)
	}
	m, err = gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if m.Empty() {
		m.Close()
		return gocv.NewMat(), fmt.Errorf("%w: decoded image is empty", ErrDecode)
	}
	return m, nil
}

// EncodeJPEG serializes a Mat for collaborators that take image bytes.
func EncodeJPEG(m gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, m)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
