package video

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/faceguard/internal/types"
)

// Source yields encoded frames in order. Stream sends every frame to out and
// returns when the source is exhausted, the frame cap is reached or ctx ends.
// It does not close out.
type Source interface {
	Stream(ctx context.Context, out chan<- types.FrameTask) error
	// Estimate is the expected number of frames Stream will send, 0 if unknown.
	Estimate() int
	// ID identifies the input for run records.
	ID() string
	Name() string
}

var stillExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true}

// DirSource reads still frames from a directory in file name order. Every
// file is a frame; Index is the 1-based position.
type DirSource struct {
	dir       string
	files     []string
	maxFrames int
}

func NewDirSource(dir string, maxFrames int) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not read frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !stillExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	if maxFrames > 0 && len(files) > maxFrames {
		files = files[:maxFrames]
	}
	return &DirSource{dir: dir, files: files, maxFrames: maxFrames}, nil
}

func (s *DirSource) Stream(ctx context.Context, out chan<- types.FrameTask) error {
	for i, path := range s.files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("could not read frame %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- types.FrameTask{Index: i + 1, Name: path, Data: data}:
		}
	}
	return nil
}

func (s *DirSource) Estimate() int { return len(s.files) }
func (s *DirSource) Name() string  { return s.dir }

// ID hashes the directory path and the list of frame files.
func (s *DirSource) ID() string {
	return hashString(s.dir + "\n" + strings.Join(s.files, "\n"))
}

// Files lists the frames that will be streamed.
func (s *DirSource) Files() []string { return s.files }

// MemorySource streams frames already held in memory. Used for single-image
// analysis.
type MemorySource struct {
	Label  string
	Frames []types.FrameTask
}

func (s *MemorySource) Stream(ctx context.Context, out chan<- types.FrameTask) error {
	for _, f := range s.Frames {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- f:
		}
	}
	return nil
}

func (s *MemorySource) Estimate() int { return len(s.Frames) }
func (s *MemorySource) Name() string  { return s.Label }
func (s *MemorySource) ID() string    { return hashString(s.Label) }
