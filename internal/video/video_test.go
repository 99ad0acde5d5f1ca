package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/andresmejia3/faceguard/internal/types"
)

func TestSplitJpeg(t *testing.T) {
	// [Garbage] [JPEG] [Garbage] [JPEG]
	first := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}
	second := []byte{0xFF, 0xD8, 0x04, 0xFF, 0xD9}

	stream := []byte{0x00, 0x00}
	stream = append(stream, first...)
	stream = append(stream, 0x00)
	stream = append(stream, second...)
	stream = append(stream, 0x00, 0x00)

	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Split(SplitJpeg)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte(nil), scanner.Bytes()...))
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(got))
	}
	if !bytes.Equal(got[0], first) || !bytes.Equal(got[1], second) {
		t.Errorf("Unexpected frames %X", got)
	}
}

func TestGenerateVideoID(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "video_test")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmp.Write([]byte("fake video content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := GenerateVideoID(tmp.Name())
	if err != nil || id == "" {
		t.Errorf("Failed to generate ID: %v", err)
	}

	id2, _ := GenerateVideoID(tmp.Name())
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := GenerateVideoID(tmp.Name())
	if id == id3 {
		t.Error("Hash did not change after file modification")
	}

	if _, err := GenerateVideoID(filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func collect(t *testing.T, ctx context.Context, src Source) ([]types.FrameTask, error) {
	t.Helper()
	out := make(chan types.FrameTask)
	errCh := make(chan error, 1)
	go func() {
		errCh <- src.Stream(ctx, out)
		close(out)
	}()
	var tasks []types.FrameTask
	for task := range out {
		tasks = append(tasks, task)
	}
	return tasks, <-errCh
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame_003.jpg", "frame_001.png", "frame_002.JPEG", "readme.md", "frame_004.webp"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.jpg"), 0755); err != nil {
		t.Fatal(err)
	}

	src, err := NewDirSource(dir, 3)
	if err != nil {
		t.Fatal(err)
	}
	if src.Estimate() != 3 {
		t.Errorf("Expected estimate capped at 3, got %d", src.Estimate())
	}

	tasks, err := collect(t, context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for i, task := range tasks {
		if task.Index != i+1 {
			t.Errorf("Expected index %d, got %d", i+1, task.Index)
		}
		names = append(names, filepath.Base(task.Name))
	}
	want := []string{"frame_001.png", "frame_002.JPEG", "frame_003.jpg"}
	if !slices.Equal(names, want) {
		t.Errorf("Expected %v, got %v", want, names)
	}
	if string(tasks[0].Data) != "frame_001.png" {
		t.Errorf("Frame data not read from disk")
	}

	again, _ := NewDirSource(dir, 3)
	if src.ID() != again.ID() {
		t.Error("Directory ID is not deterministic")
	}
}

func TestDirSourceMissing(t *testing.T) {
	if _, err := NewDirSource(filepath.Join(t.TempDir(), "nope"), 0); err == nil {
		t.Error("Expected error for missing directory")
	}
}

func TestMemorySourceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &MemorySource{Label: "still", Frames: []types.FrameTask{{Index: 1}}}

	out := make(chan types.FrameTask) // unbuffered and never read
	if err := src.Stream(ctx, out); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestParseFrameCount(t *testing.T) {
	probe := `{"streams":[{"nb_frames":"250","nb_read_packets":"249"}]}`
	if n, err := parseFrameCount(probe, false); err != nil || n != 250 {
		t.Errorf("Expected 250, got %d (%v)", n, err)
	}
	if n, err := parseFrameCount(probe, true); err != nil || n != 249 {
		t.Errorf("Expected 249, got %d (%v)", n, err)
	}
	if _, err := parseFrameCount(`{"streams":[{"nb_frames":"N/A"}]}`, false); err == nil {
		t.Error("Expected error for N/A frame count")
	}
	if _, err := parseFrameCount(`{"streams":[]}`, false); err == nil {
		t.Error("Expected error without streams")
	}
}

func TestNewFFmpegCmd(t *testing.T) {
	cmd := NewFFmpegCmd(context.Background(), "input.mp4")
	for _, want := range []string{"input.mp4", "image2pipe", "mjpeg", "pipe:"} {
		if !slices.Contains(cmd.Args, want) {
			t.Errorf("Expected %q in ffmpeg args %v", want, cmd.Args)
		}
	}
}
