package enroll

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/andresmejia3/faceguard/internal/logger"
	"github.com/andresmejia3/faceguard/internal/types"
	"github.com/andresmejia3/faceguard/internal/worker"
)

// ErrEnrollmentEmpty means no image produced a usable encoding.
var ErrEnrollmentEmpty = errors.New("enrollment produced no identities")

// Image is one enrollment photo. Label may be empty, see ResolveLabel.
type Image struct {
	Name  string
	Label string
	Data  []byte
}

// Result is the in-memory identity set for one run.
type Result struct {
	Identities []types.Identity
	Counts     map[string]int
	Skipped    []string
}

// Enroller encodes enrollment images with a pool of processors.
type Enroller struct {
	factory worker.Factory
	workers int
	// Fallback labels apply to unlabeled images when exactly one is given.
	Fallback []string
	// OnImage is called after each image is encoded or skipped.
	OnImage func(name string, ok bool)
}

func New(factory worker.Factory, workers int) *Enroller {
	return &Enroller{factory: factory, workers: max(workers, 1)}
}

type encoded struct {
	label  string
	vector []float64
	ok     bool
}

// Enroll encodes every image in parallel, then groups encodings by label.
// The first detected face of each image is used.
func (e *Enroller) Enroll(ctx context.Context, images []Image) (Result, error) {
	out := make([]encoded, len(images))
	jobs := make(chan int)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		startErr error
	)
	workers := min(e.workers, max(len(images), 1))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p, err := e.factory(id)
			if err != nil {
				mu.Lock()
				if startErr == nil {
					startErr = err
				}
				mu.Unlock()
				for range jobs {
				}
				return
			}
			defer p.Close()

			for idx := range jobs {
				img := images[idx]
				res := p.ProcessFrame(types.FrameTask{Index: idx, Name: img.Name, Data: img.Data})
				out[idx] = e.pick(img, res)
				if e.OnImage != nil {
					e.OnImage(img.Name, out[idx].ok)
				}
			}
		}(i)
	}

feed:
	for i := range images {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if startErr != nil {
		return Result{}, fmt.Errorf("failed to start enrollment worker: %w", startErr)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return group(images, out)
}

func (e *Enroller) pick(img Image, res worker.FrameResult) encoded {
	if res.Err != nil {
		logger.Warning("skipping enrollment image", logger.LoggerOptions{Key: "image", Data: img.Name}, logger.LoggerOptions{Key: "error", Data: res.Err.Error()})
		return encoded{}
	}
	if len(res.Encodings) == 0 {
		logger.Warning("no face found in enrollment image", logger.LoggerOptions{Key: "image", Data: img.Name})
		return encoded{}
	}
	first := res.Encodings[0]
	for _, enc := range res.Encodings[1:] {
		if enc.Index < first.Index {
			first = enc
		}
	}
	return encoded{
		label:  ResolveLabel(img.Name, img.Label, e.Fallback),
		vector: first.Encoding.Vector,
		ok:     true,
	}
}

func group(images []Image, encs []encoded) (Result, error) {
	res := Result{Counts: make(map[string]int), Skipped: []string{}}
	byLabel := make(map[string][][]float64)
	var order []string

	for i, enc := range encs {
		if !enc.ok || enc.label == "" {
			res.Skipped = append(res.Skipped, images[i].Name)
			continue
		}
		if _, seen := byLabel[enc.label]; !seen {
			order = append(order, enc.label)
		}
		byLabel[enc.label] = append(byLabel[enc.label], enc.vector)
	}

	for _, label := range order {
		vecs := majorityDim(label, byLabel[label])
		res.Identities = append(res.Identities, types.Identity{
			ID:       label,
			Centroid: Centroid(vecs),
			Images:   len(vecs),
		})
		res.Counts[label] = len(vecs)
	}
	sort.Slice(res.Identities, func(i, j int) bool { return res.Identities[i].ID < res.Identities[j].ID })

	if len(res.Identities) == 0 {
		return res, ErrEnrollmentEmpty
	}
	return res, nil
}

// majorityDim keeps the vectors sharing the most common length. Ties go to
// the length seen first.
func majorityDim(label string, vecs [][]float64) [][]float64 {
	counts := make(map[int]int)
	var dims []int
	for _, v := range vecs {
		if counts[len(v)] == 0 {
			dims = append(dims, len(v))
		}
		counts[len(v)]++
	}
	if len(dims) == 1 {
		return vecs
	}

	best := dims[0]
	for _, d := range dims[1:] {
		if counts[d] > counts[best] {
			best = d
		}
	}
	logger.Warning("mixed encoding dimensions in enrollment",
		logger.LoggerOptions{Key: "identity", Data: label},
		logger.LoggerOptions{Key: "kept_dim", Data: best},
		logger.LoggerOptions{Key: "dims", Data: counts},
	)
	kept := make([][]float64, 0, counts[best])
	for _, v := range vecs {
		if len(v) == best {
			kept = append(kept, v)
		}
	}
	return kept
}

// Centroid is the componentwise mean. A single vector is returned as a copy.
func Centroid(vecs [][]float64) []float64 {
	if len(vecs) == 0 {
		return nil
	}
	c := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for i := range c {
			c[i] += v[i]
		}
	}
	if len(vecs) > 1 {
		for i := range c {
			c[i] /= float64(len(vecs))
		}
	}
	return c
}

// ResolveLabel picks the identity label for an image: the explicit label,
// else the only fallback label, else the file name without extension. The
// result is cut at the first '.' and trimmed.
func ResolveLabel(name, label string, fallback []string) string {
	switch {
	case label != "":
	case len(fallback) == 1:
		label = fallback[0]
	default:
		base := filepath.Base(name)
		label = strings.TrimSuffix(base, filepath.Ext(base))
	}
	label, _, _ = strings.Cut(label, ".")
	return strings.TrimSpace(label)
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true}

// IsImage reports whether the file extension is a supported still image.
func IsImage(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// LoadDir reads enrollment images from dir. Images directly in dir are
// labeled by file name; images inside a subdirectory take its name as label.
func LoadDir(dir string) ([]Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not read enrollment directory: %w", err)
	}

	var images []Image
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			sub, err := os.ReadDir(path)
			if err != nil {
				return nil, fmt.Errorf("could not read %s: %w", path, err)
			}
			for _, f := range sub {
				if f.IsDir() || !IsImage(f.Name()) {
					continue
				}
				img, err := readImage(filepath.Join(path, f.Name()), entry.Name())
				if err != nil {
					return nil, err
				}
				images = append(images, img)
			}
			continue
		}
		if !IsImage(entry.Name()) {
			continue
		}
		img, err := readImage(path, "")
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func readImage(path, label string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("could not read %s: %w", path, err)
	}
	return Image{Name: path, Label: label, Data: data}, nil
}
