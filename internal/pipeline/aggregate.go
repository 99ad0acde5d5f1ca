package pipeline

import (
	"time"

	"github.com/andresmejia3/faceguard/internal/risk"
	"github.com/andresmejia3/faceguard/internal/types"
	"github.com/andresmejia3/faceguard/internal/video"
	"github.com/andresmejia3/faceguard/internal/worker"
)

// IdentityStats tracks one recognized identity across a run.
type IdentityStats struct {
	Count          int       `json:"count"`
	FirstFrame     int       `json:"first_frame"`
	LastFrame      int       `json:"last_frame"`
	Confidences    []float64 `json:"-"`
	AvgConfidence  float64   `json:"avg_confidence"`
	DurationFrames int       `json:"duration_frames"`
	Authorized     bool      `json:"authorized"`
	RiskScore      float64   `json:"risk_score"`
}

// RunSummary holds the aggregate figures of a run.
type RunSummary struct {
	TotalFramesSampled int                       `json:"total_frames_sampled"`
	FramesSkipped      int                       `json:"frames_skipped"`
	FacesDetected      int                       `json:"faces_detected"`
	FacesRecognized    int                       `json:"faces_recognized"`
	RecognitionRate    float64                   `json:"recognition_rate"`
	AnomaliesCount     int                       `json:"anomalies_count"`
	AnomalyRate        float64                   `json:"anomaly_rate"`
	ThreatLevel        types.ThreatLevel         `json:"threat_level"`
	PerIdentity        map[string]*IdentityStats `json:"per_identity_stats"`
}

// Result is everything a run produced.
type Result struct {
	RunID      string               `json:"run_id"`
	Source     string               `json:"source"`
	SourceID   string               `json:"source_id"`
	Method     types.EncodingMethod `json:"method"`
	Threshold  float64              `json:"threshold"`
	Zone       string               `json:"zone,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Cancelled  bool                 `json:"cancelled"`

	Records   []types.MatchRecord  `json:"records"`
	Events    []types.AnomalyEvent `json:"events"`
	Summary   RunSummary           `json:"summary"`
	Anomalies risk.Summary         `json:"anomaly_summary"`
}

// aggregator owns every per-run accumulator. Only the Process goroutine
// touches it.
type aggregator struct {
	o       *Orchestrator
	zones   []string
	res     *Result
	stats   map[string]*IdentityStats
	decoded int
	skipped int
	faces   int
	known   int
}

func newAggregator(o *Orchestrator, src video.Source) *aggregator {
	return &aggregator{
		o:     o,
		zones: o.evaluator.ZonesFor(o.zone),
		res: &Result{
			RunID:     newRunID(),
			Source:    src.Name(),
			SourceID:  src.ID(),
			Method:    o.method,
			Threshold: o.matcher.Threshold(),
			Zone:      o.zone,
			StartedAt: time.Now().UTC(),
			Records:   []types.MatchRecord{},
			Events:    []types.AnomalyEvent{},
		},
		stats: make(map[string]*IdentityStats),
	}
}

// add folds one frame into the run. Frames must arrive in order.
func (a *aggregator) add(fr worker.FrameResult) {
	report := types.FrameReport{Index: fr.Index}
	if fr.Err != nil {
		a.skipped++
		report.Skipped = true
		a.emit(report)
		return
	}
	a.decoded++
	a.faces += len(fr.Detections)
	report.Faces = len(fr.Detections)

	ev := a.o.evaluator
	for _, enc := range fr.Encodings {
		if enc.Index < 0 || enc.Index >= len(fr.Detections) {
			continue
		}
		id, dist, ok := a.o.matcher.Match(enc.Encoding.Vector)
		rec := types.MatchRecord{
			Frame:      fr.Index,
			Distance:   dist,
			Confidence: 1 - dist,
			Box:        fr.Detections[enc.Index],
			Vector:     enc.Encoding.Vector,
		}
		if ok {
			a.known++
			report.Recognized++
			score := ev.RiskOf(id)
			status, events := ev.EvaluateZones(id, a.zones, score, fr.Index)

			rec.IdentityID = id
			rec.Authorized = ev.Authorized(id, a.o.zone)
			rec.Access = status
			a.res.Events = append(a.res.Events, events...)
			report.Anomalies += len(events)
			a.track(id, fr.Index, rec.Confidence, rec.Authorized, score)
		}
		a.res.Records = append(a.res.Records, rec)
	}
	a.emit(report)
}

func (a *aggregator) track(id string, frame int, confidence float64, authorized bool, score float64) {
	st, ok := a.stats[id]
	if !ok {
		st = &IdentityStats{FirstFrame: frame, Authorized: authorized, RiskScore: score}
		a.stats[id] = st
	}
	st.Count++
	st.LastFrame = frame
	st.Confidences = append(st.Confidences, confidence)
}

func (a *aggregator) emit(r types.FrameReport) {
	if a.o.OnFrame != nil {
		a.o.OnFrame(r)
	}
}

func (a *aggregator) finish(cancelled bool) *Result {
	res := a.res
	res.FinishedAt = time.Now().UTC()
	res.Cancelled = cancelled

	for _, st := range a.stats {
		var sum float64
		for _, c := range st.Confidences {
			sum += c
		}
		st.AvgConfidence = risk.Round3(sum / float64(len(st.Confidences)))
		st.DurationFrames = st.LastFrame - st.FirstFrame
	}

	anomalies := len(res.Events)
	rate := risk.AnomalyRate(anomalies, a.known)
	res.Summary = RunSummary{
		TotalFramesSampled: a.decoded + a.skipped,
		FramesSkipped:      a.skipped,
		FacesDetected:      a.faces,
		FacesRecognized:    a.known,
		RecognitionRate:    float64(a.known) / float64(max(a.faces, 1)) * 100,
		AnomaliesCount:     anomalies,
		AnomalyRate:        rate,
		ThreatLevel:        risk.ThreatLevelFor(anomalies, rate),
		PerIdentity:        a.stats,
	}
	res.Anomalies = risk.Summarize(res.Events)
	return res
}
