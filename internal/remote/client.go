package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/faceguard/internal/config"
	"github.com/andresmejia3/faceguard/internal/logger"
)

// ErrRemoteService covers timeouts and non-success responses. Callers treat it
// as a failed tier and fall through.
var ErrRemoteService = errors.New("remote face service error")

const (
	detectPath    = "/api/v1/detection/detect"
	recognizePath = "/api/v1/recognition/recognize"
	probePath     = "/docs"
)

// Box is a face reported by the remote service in pixel coordinates.
type Box struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

// Client talks to a CompreFace-compatible detect/recognize service.
type Client struct {
	baseURL      string
	detectKey    string
	recognizeKey string
	http         *http.Client
	probeTimeout time.Duration
	recheck      time.Duration

	mu        sync.Mutex
	probed    bool
	available bool
	checkedAt time.Time
	now       func() time.Time
}

// New returns nil when no URL is configured.
func New(cfg config.RemoteConfig) *Client {
	if cfg.URL == "" {
		return nil
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		detectKey:    cfg.DetectKey,
		recognizeKey: cfg.RecognizeKey,
		http:         &http.Client{Timeout: cfg.Timeout},
		probeTimeout: cfg.ProbeTimeout,
		recheck:      cfg.Recheck,
		now:          time.Now,
	}
}

// Probe checks the service and caches the answer.
func (c *Client) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	ok := false
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+probePath, nil)
	if err == nil {
		resp, err := c.http.Do(req)
		if err != nil {
			logger.Warning("remote face service not available", logger.LoggerOptions{Key: "error", Data: err.Error()})
		} else {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			ok = resp.StatusCode == http.StatusOK
		}
	}

	c.mu.Lock()
	c.probed = true
	c.available = ok
	c.checkedAt = c.now()
	c.mu.Unlock()
	return ok
}

// Available returns the cached probe result. An unavailable service is
// re-probed once the recheck interval has passed.
func (c *Client) Available(ctx context.Context) bool {
	c.mu.Lock()
	probed, available, checkedAt := c.probed, c.available, c.checkedAt
	c.mu.Unlock()

	if !probed {
		return c.Probe(ctx)
	}
	if !available && c.now().Sub(checkedAt) >= c.recheck {
		return c.Probe(ctx)
	}
	return available
}

func (c *Client) markDown() {
	c.mu.Lock()
	c.available = false
	c.checkedAt = c.now()
	c.mu.Unlock()
}

type detectResponse struct {
	Result []struct {
		Confidence *float64 `json:"confidence"`
		Box        struct {
			X           *int     `json:"x"`
			Y           *int     `json:"y"`
			Width       *int     `json:"width"`
			Height      *int     `json:"height"`
			XMin        int      `json:"x_min"`
			YMin        int      `json:"y_min"`
			XMax        int      `json:"x_max"`
			YMax        int      `json:"y_max"`
			Probability *float64 `json:"probability"`
		} `json:"box"`
	} `json:"result"`
}

// Detect sends a whole frame and returns every face box the service found.
// Coordinates are clamped to x,y >= 0 and width,height >= 1.
func (c *Client) Detect(ctx context.Context, img []byte) ([]Box, error) {
	body, err := c.postImage(ctx, detectPath, c.detectKey, "frame.jpg", img)
	if err != nil {
		return nil, err
	}

	var res detectResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: could not unmarshal detection response: %v", ErrRemoteService, err)
	}

	boxes := make([]Box, 0, len(res.Result))
	for _, face := range res.Result {
		b := face.Box
		box := Box{X: b.XMin, Y: b.YMin, Width: b.XMax - b.XMin, Height: b.YMax - b.YMin}
		if b.X != nil && b.Y != nil && b.Width != nil && b.Height != nil {
			box = Box{X: *b.X, Y: *b.Y, Width: *b.Width, Height: *b.Height}
		}
		switch {
		case face.Confidence != nil:
			box.Confidence = *face.Confidence
		case b.Probability != nil:
			box.Confidence = *b.Probability
		}
		box.X = max(0, box.X)
		box.Y = max(0, box.Y)
		box.Width = max(1, box.Width)
		box.Height = max(1, box.Height)
		boxes = append(boxes, box)
	}
	return boxes, nil
}

type recognizeResponse struct {
	Result struct {
		Embeddings [][]float64 `json:"embeddings"`
	} `json:"result"`
}

// Recognize crops box out of img and asks the service for its embedding.
// A nil slice without error means the service returned no embedding.
func (c *Client) Recognize(ctx context.Context, img []byte, box Box) ([]float64, error) {
	face, err := cropJPEG(img, box)
	if err != nil {
		return nil, err
	}
	if face == nil {
		return nil, nil
	}

	body, err := c.postImage(ctx, recognizePath, c.recognizeKey, "face.jpg", face)
	if err != nil {
		return nil, err
	}

	var res recognizeResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: could not unmarshal recognition response: %v", ErrRemoteService, err)
	}
	if len(res.Result.Embeddings) == 0 {
		return nil, nil
	}
	return res.Result.Embeddings[0], nil
}

func (c *Client) postImage(ctx context.Context, path, apiKey, filename string, img []byte) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("could not create form file: %w", err)
	}
	if _, err := part.Write(img); err != nil {
		return nil, fmt.Errorf("could not write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("could not close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.markDown()
		return nil, fmt.Errorf("%w: %v", ErrRemoteService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.markDown()
		return nil, fmt.Errorf("%w: request failed with status %d: %s", ErrRemoteService, resp.StatusCode, readErrorBody(resp.Body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: could not read response body: %v", ErrRemoteService, err)
	}
	return body, nil
}

// readErrorBody returns at most the first 512 bytes of an error response.
func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// cropJPEG returns nil when the box does not overlap the image.
func cropJPEG(img []byte, box Box) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("could not decode image for cropping: %w", err)
	}
	rect := image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height).Intersect(src.Bounds())
	if rect.Empty() {
		return nil, nil
	}
	si, ok := src.(subImager)
	if !ok {
		return nil, fmt.Errorf("image type %T cannot be cropped", src)
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, si.SubImage(rect), &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("could not encode face crop: %w", err)
	}
	return out.Bytes(), nil
}
