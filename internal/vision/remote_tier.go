package vision

import (
	"context"

	"github.com/andresmejia3/faceguard/internal/remote"
	"github.com/andresmejia3/faceguard/internal/types"
	"gocv.io/x/gocv"
)

// RemoteDetector is the detect half of the remote face service contract.
type RemoteDetector interface {
	Available(ctx context.Context) bool
	Detect(ctx context.Context, img []byte) ([]remote.Box, error)
}

// RemoteTier asks the remote service first. Request timeouts are owned by the client.
type RemoteTier struct {
	client     RemoteDetector
	confidence float64
}

func NewRemoteTier(client RemoteDetector, confidence float64) *RemoteTier {
	return &RemoteTier{client: client, confidence: confidence}
}

func (t *RemoteTier) Name() string { return "remote" }

func (t *RemoteTier) Detect(frame gocv.Mat) ([]types.Detection, error) {
	ctx := context.Background()
	if !t.client.Available(ctx) {
		return nil, errTierSkipped
	}

	img, err := EncodeJPEG(frame)
	if err != nil {
		return nil, err
	}
	boxes, err := t.client.Detect(ctx, img)
	if err != nil {
		return nil, err
	}

	var dets []types.Detection
	for _, b := range boxes {
		if b.Confidence <= t.confidence {
			continue
		}
		dets = append(dets, types.Detection{
			Top:        b.Y,
			Right:      b.X + b.Width,
			Bottom:     b.Y + b.Height,
			Left:       b.X,
			Confidence: b.Confidence,
		})
	}
	return dets, nil
}

func (t *RemoteTier) Close() error { return nil }
