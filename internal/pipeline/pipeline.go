package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/faceguard/internal/config"
	"github.com/andresmejia3/faceguard/internal/logger"
	"github.com/andresmejia3/faceguard/internal/match"
	"github.com/andresmejia3/faceguard/internal/risk"
	"github.com/andresmejia3/faceguard/internal/types"
	"github.com/andresmejia3/faceguard/internal/video"
	"github.com/andresmejia3/faceguard/internal/worker"
	"github.com/google/uuid"
)

var (
	ErrNoIdentities = errors.New("no enrolled identities")
	ErrNoFrames     = errors.New("no frame could be decoded")
)

// Options configure an Orchestrator.
type Options struct {
	Engines int
	Method  types.EncodingMethod
	// Zone applies to every frame. Empty falls back to the site's default zone,
	// and without one every zone of the site is checked.
	Zone     string
	Matching config.MatchingConfig
	Risk     config.RiskConfig
	Site     *config.Site
}

// Orchestrator runs frames through a pool of processors and aggregates the
// results in frame order.
type Orchestrator struct {
	factory   worker.Factory
	engines   int
	method    types.EncodingMethod
	zone      string
	matcher   *match.Matcher
	evaluator *risk.Evaluator

	// OnFrame, when set, is called by the aggregator for every frame in order.
	OnFrame func(types.FrameReport)

	rtMu sync.Mutex
	rt   worker.Processor
}

func New(factory worker.Factory, identities []types.Identity, opts Options) (*Orchestrator, error) {
	if len(identities) == 0 {
		return nil, ErrNoIdentities
	}
	site := opts.Site
	if site == nil {
		site = &config.Site{}
	}
	zone := opts.Zone
	if zone == "" {
		zone = site.DefaultZone
	}
	return &Orchestrator{
		factory:   factory,
		engines:   max(opts.Engines, 1),
		method:    opts.Method,
		zone:      zone,
		matcher:   match.New(identities, match.ThresholdFor(opts.Method, opts.Matching)),
		evaluator: risk.NewEvaluator(opts.Risk, site),
	}, nil
}

func (o *Orchestrator) Threshold() float64 { return o.matcher.Threshold() }
func (o *Orchestrator) Zone() string        { return o.zone }

type job struct {
	seq  int
	task types.FrameTask
}

type frameResult struct {
	seq       int
	res       worker.FrameResult
	cancelled bool
}

// Process analyzes every frame the source yields. On cancellation the frames
// aggregated so far are summarized and returned together with ctx.Err().
func (o *Orchestrator) Process(ctx context.Context, src video.Source) (*Result, error) {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	frames := make(chan types.FrameTask, o.engines)
	jobs := make(chan job, o.engines)
	results := make(chan frameResult, o.engines*2)

	// 1. Source
	srcErr := make(chan error, 1)
	go func() {
		srcErr <- src.Stream(runCtx, frames)
		close(frames)
	}()

	// 2. Sequencer. Sampled frame indices are sparse, the aggregator orders by seq.
	go func() {
		seq := 0
		for f := range frames {
			jobs <- job{seq: seq, task: f}
			seq++
		}
		close(jobs)
	}()

	// 3. Engine pool
	var wg sync.WaitGroup
	for i := 0; i < o.engines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			o.runWorker(runCtx, cancel, id, jobs, results)
		}(i)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// 4. Aggregator
	agg := newAggregator(o, src)
	buffer := make(map[int]frameResult)
	nextSeq := 0
	stopAt := -1
	for r := range results {
		if r.cancelled && (stopAt == -1 || r.seq < stopAt) {
			stopAt = r.seq
		}
		buffer[r.seq] = r
		for nextSeq != stopAt {
			fr, ok := buffer[nextSeq]
			if !ok {
				break
			}
			delete(buffer, nextSeq)
			agg.add(fr.res)
			nextSeq++
		}
	}

	err := <-srcErr
	if cause := context.Cause(runCtx); cause != nil && ctx.Err() == nil {
		// A worker failed to start.
		err = cause
	}

	res := agg.finish(ctx.Err() != nil)
	switch {
	case ctx.Err() != nil:
		return res, ctx.Err()
	case err != nil:
		return res, err
	case agg.decoded == 0:
		return res, ErrNoFrames
	}
	return res, nil
}

func (o *Orchestrator) runWorker(ctx context.Context, cancel context.CancelCauseFunc, id int, jobs <-chan job, results chan<- frameResult) {
	p, err := o.factory(id)
	if err != nil {
		cancel(fmt.Errorf("engine %d failed to start: %w", id, err))
		for j := range jobs {
			results <- frameResult{seq: j.seq, cancelled: true}
		}
		return
	}
	defer p.Close()

	for j := range jobs {
		if ctx.Err() != nil {
			results <- frameResult{seq: j.seq, cancelled: true}
			continue
		}
		results <- frameResult{seq: j.seq, res: p.ProcessFrame(j.task)}
	}
}

// Close releases the processor kept for single-frame analysis.
func (o *Orchestrator) Close() {
	o.rtMu.Lock()
	defer o.rtMu.Unlock()
	if o.rt != nil {
		o.rt.Close()
		o.rt = nil
	}
}

// FaceResult is the per-detection outcome of single-frame analysis.
type FaceResult struct {
	Box             types.Detection    `json:"box"`
	IdentityID      string             `json:"identity_id,omitempty"`
	MatchConfidence float64            `json:"match_confidence"`
	RiskScore       float64            `json:"risk_score,omitempty"`
	ThreatLevel     types.ThreatLevel  `json:"threat_level,omitempty"`
	ZoneAuthorized  *bool              `json:"zone_authorized,omitempty"`
	Access          types.AccessStatus `json:"access_status,omitempty"`
	Vector          []float64          `json:"-"`
}

// FrameAnalysis is the result of ProcessFrame.
type FrameAnalysis struct {
	Timestamp time.Time            `json:"timestamp"`
	Width     int                  `json:"width"`
	Height    int                  `json:"height"`
	Faces     []FaceResult         `json:"detections"`
	Anomalies []types.AnomalyEvent `json:"anomalies"`
}

// ProcessFrame analyzes one still image for real-time monitoring. An empty
// zone uses the orchestrator's zone.
func (o *Orchestrator) ProcessFrame(ctx context.Context, data []byte, zone string) (*FrameAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if zone == "" {
		zone = o.zone
	}
	zones := o.evaluator.ZonesFor(zone)

	o.rtMu.Lock()
	if o.rt == nil {
		p, err := o.factory(0)
		if err != nil {
			o.rtMu.Unlock()
			return nil, fmt.Errorf("failed to start engine: %w", err)
		}
		o.rt = p
	}
	res := o.rt.ProcessFrame(types.FrameTask{Index: 1, Data: data})
	o.rtMu.Unlock()

	if res.Err != nil {
		return nil, res.Err
	}

	out := &FrameAnalysis{
		Timestamp: time.Now().UTC(),
		Width:     res.Width,
		Height:    res.Height,
		Faces:     []FaceResult{},
		Anomalies: []types.AnomalyEvent{},
	}
	encByDet := make(map[int]types.Encoding, len(res.Encodings))
	for _, e := range res.Encodings {
		encByDet[e.Index] = e.Encoding
	}

	for i, det := range res.Detections {
		face := FaceResult{Box: det}
		enc, ok := encByDet[i]
		if !ok {
			out.Faces = append(out.Faces, face)
			continue
		}
		id, dist, matched := o.matcher.Match(enc.Vector)
		face.Vector = enc.Vector
		face.MatchConfidence = 1 - dist
		if matched {
			score := o.evaluator.RiskOf(id)
			face.IdentityID = id
			face.RiskScore = score
			face.ThreatLevel = o.evaluator.DetectionThreat(score)

			status, events := o.evaluator.EvaluateZones(id, zones, score, 1)
			face.Access = status
			if zone != "" {
				authorized := o.evaluator.Authorized(id, zone)
				face.ZoneAuthorized = &authorized
			}
			out.Anomalies = append(out.Anomalies, events...)
		}
		out.Faces = append(out.Faces, face)
	}

	logger.Debug("frame analyzed", logger.LoggerOptions{Key: "faces", Data: len(out.Faces)}, logger.LoggerOptions{Key: "anomalies", Data: len(out.Anomalies)})
	return out, nil
}

func newRunID() string { return uuid.NewString() }
