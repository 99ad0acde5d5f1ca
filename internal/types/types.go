package types

// FrameTask represents a single frame sent to a worker for processing
type FrameTask struct {
	Index int
	Name  string // source file for still frames, empty for video
	Data  []byte
}

// Detection is a face bounding box in frame pixel coordinates.
type Detection struct {
	Top        int     `json:"top"`
	Right      int     `json:"right"`
	Bottom     int     `json:"bottom"`
	Left       int     `json:"left"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"` // tier that produced the box
}

func (d Detection) Width() int  { return d.Right - d.Left }
func (d Detection) Height() int { return d.Bottom - d.Top }
func (d Detection) Area() int   { return d.Width() * d.Height() }

// Degenerate reports whether the box has no usable area.
func (d Detection) Degenerate() bool { return d.Width() <= 0 || d.Height() <= 0 }

// Clip returns the detection clamped to a width x height frame.
func (d Detection) Clip(width, height int) Detection {
	d.Left = clamp(d.Left, 0, width)
	d.Right = clamp(d.Right, 0, width)
	d.Top = clamp(d.Top, 0, height)
	d.Bottom = clamp(d.Bottom, 0, height)
	return d
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EncodingMethod names the extraction method behind an encoding.
type EncodingMethod string

const (
	MethodModel      EncodingMethod = "model"
	MethodDescriptor EncodingMethod = "descriptor"
)

// Encoding is a face vector tagged with the method that produced it.
type Encoding struct {
	Vector []float64      `json:"vector"`
	Method EncodingMethod `json:"method"`
}

// Encoded pairs an encoding with the index of the detection it came from.
type Encoded struct {
	Index    int
	Encoding Encoding
}

// Identity is an enrolled person with a centroid encoding.
type Identity struct {
	ID       string    `json:"identity_id"`
	Centroid []float64 `json:"-"`
	Images   int       `json:"images"`
}

// MatchRecord is produced once per encoded face per frame.
type MatchRecord struct {
	Frame      int          `json:"frame"`
	IdentityID string       `json:"identity_id,omitempty"` // empty when unknown
	Distance   float64      `json:"distance"`
	Confidence float64      `json:"confidence"`
	Authorized bool         `json:"authorized"`
	Access     AccessStatus `json:"access_status,omitempty"`
	Box        Detection    `json:"box"`
	Vector     []float64    `json:"-"`
}

// Recognized reports whether the record matched an enrolled identity.
func (m MatchRecord) Recognized() bool { return m.IdentityID != "" }

type AnomalyType string

const (
	HighRiskDetected       AnomalyType = "HIGH_RISK_DETECTED"
	UnauthorizedZoneAccess AnomalyType = "UNAUTHORIZED_ZONE_ACCESS"
)

// AnomalyEvent is a flagged occurrence tied to one frame and identity.
type AnomalyEvent struct {
	Type       AnomalyType `json:"type"`
	IdentityID string      `json:"identity_id"`
	ZoneID     string      `json:"zone_id,omitempty"`
	RiskScore  float64     `json:"risk_score"`
	Frame      int         `json:"frame"`
}

type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "LOW"
	ThreatMedium   ThreatLevel = "MEDIUM"
	ThreatHigh     ThreatLevel = "HIGH"
	ThreatCritical ThreatLevel = "CRITICAL"
)

// AccessStatus is the zone gate decision. Empty when no zone was supplied.
type AccessStatus string

const (
	AccessGranted  AccessStatus = "GRANTED"
	AccessDenied   AccessStatus = "DENIED"
	AccessAdvisory AccessStatus = "ADVISORY"
)

// FrameReport is emitted once per sampled frame, in frame order.
type FrameReport struct {
	Index      int
	Faces      int
	Recognized int
	Anomalies  int
	Skipped    bool // frame failed to decode
}
