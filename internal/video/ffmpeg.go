package video

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/andresmejia3/faceguard/internal/config"
	"github.com/andresmejia3/faceguard/internal/logger"
	"github.com/andresmejia3/faceguard/internal/types"
	"github.com/andresmejia3/faceguard/internal/utils"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

const megabyte = 1024 * 1024

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// FFmpegSource decodes a video into MJPEG frames and keeps every NthFrame-th
// one, numbering frames from 1, until MaxFrames have been sent.
type FFmpegSource struct {
	path      string
	nthFrame  int
	maxFrames int
	id        string

	// Cmd is the last ffmpeg process started by Stream. Its Stderr buffer
	// holds the ffmpeg logs.
	Cmd *utils.SafeCommand
}

func NewFFmpegSource(path string, cfg config.SamplingConfig) (*FFmpegSource, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	id, err := GenerateVideoID(path)
	if err != nil {
		return nil, err
	}
	return &FFmpegSource{
		path:      path,
		nthFrame:  max(cfg.NthFrame, 1),
		maxFrames: cfg.MaxFrames,
		id:        id,
	}, nil
}

func (s *FFmpegSource) ID() string   { return s.id }
func (s *FFmpegSource) Name() string { return s.path }

// Estimate derives the sampled frame count from the container's frame count.
func (s *FFmpegSource) Estimate() int {
	total := GetTotalFrames(s.path)
	if total <= 0 {
		return 0
	}
	sampled := total / s.nthFrame
	if s.maxFrames > 0 {
		sampled = min(sampled, s.maxFrames)
	}
	return sampled
}

func (s *FFmpegSource) Stream(ctx context.Context, out chan<- types.FrameTask) error {
	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.Cmd = utils.NewSafeCommand(NewFFmpegCmd(procCtx, s.path))
	stdout, err := s.Cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create FFmpeg stdout pipe: %w", err)
	}
	if err := s.Cmd.Start(); err != nil {
		return fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(SplitJpeg)

	totalFrames, sent := 0, 0
	stopped := false
	for !stopped && scanner.Scan() {
		totalFrames++
		if totalFrames%s.nthFrame != 0 {
			continue
		}
		data := make([]byte, len(scanner.Bytes()))
		copy(data, scanner.Bytes())

		select {
		case <-ctx.Done():
			stopped = true
		case out <- types.FrameTask{Index: totalFrames, Data: data}:
			sent++
			stopped = s.maxFrames > 0 && sent >= s.maxFrames
		}
	}

	if stopped {
		// Killing ffmpeg through procCtx makes its exit status meaningless.
		cancel()
		_ = s.Cmd.Wait()
		logger.Debug("frame stream stopped early", logger.LoggerOptions{Key: "sent", Data: sent}, logger.LoggerOptions{Key: "read", Data: totalFrames})
		return ctx.Err()
	}

	if err := scanner.Err(); err != nil {
		_ = s.Cmd.Wait()
		return fmt.Errorf("frame scanner failed: %w", err)
	}
	if err := s.Cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("FFmpeg execution failed: %w", err)
	}
	return nil
}

// NewFFmpegCmd builds the decoder pipe. FFmpeg writes raw MJPEG frames to
// stdout so SplitJpeg can cut them apart.
func NewFFmpegCmd(ctx context.Context, inputPath string) *exec.Cmd {
	compiled := ffmpeg.Input(inputPath).
		Output("pipe:", ffmpeg.KwArgs{"f": "image2pipe", "vcodec": "mjpeg"}).
		GlobalArgs("-hide_banner", "-loglevel", "error").
		Compile()
	return exec.CommandContext(ctx, compiled.Args[0], compiled.Args[1:]...)
}

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

type probeOutput struct {
	Streams []struct {
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

// GetTotalFrames asks ffprobe for the video frame count. It returns 0 when
// the count is unavailable so callers can fall back to a spinner.
func GetTotalFrames(path string) int {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  ffprobe not found. Cannot provide a progress bar estimation because of this.\n")
		return 0
	}

	// Container metadata is instant but can be missing for VFR streams.
	if out, err := ffmpeg.Probe(path, ffmpeg.KwArgs{"select_streams": "v:0"}); err == nil {
		if count, err := parseFrameCount(out, false); err == nil && count > 0 {
			return count
		}
	}

	fmt.Fprintf(os.Stderr, "⏳ Metadata missing. Counting frames (this may take a moment)...\n")
	out, err := ffmpeg.Probe(path, ffmpeg.KwArgs{"select_streams": "v:0", "count_packets": nil})
	if err != nil {
		logger.Warning("ffprobe failed", logger.LoggerOptions{Key: "error", Data: err.Error()})
		return 0
	}
	count, err := parseFrameCount(out, true)
	if err != nil {
		logger.Warning("could not parse ffprobe output", logger.LoggerOptions{Key: "error", Data: err.Error()})
		return 0
	}
	return count
}

func parseFrameCount(probe string, packets bool) (int, error) {
	var res probeOutput
	if err := json.Unmarshal([]byte(probe), &res); err != nil {
		return 0, err
	}
	if len(res.Streams) == 0 {
		return 0, errors.New("no video stream")
	}
	field := res.Streams[0].NbFrames
	if packets {
		field = res.Streams[0].NbReadPackets
	}
	return strconv.Atoi(field)
}

// GenerateVideoID creates a deterministic hash for the video file
// based on its path, size, and modification time.
func GenerateVideoID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return hashString(fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())), nil
}

func hashString(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}
