package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config gathers every tunable of an analysis run. Thresholds live here as named
// fields so the pipeline code never carries literals.
type Config struct {
	Models    ModelsConfig
	Detection DetectionConfig
	Encoding  EncodingConfig
	Matching  MatchingConfig
	Risk      RiskConfig
	Sampling  SamplingConfig
	Enhance   EnhanceConfig
	Remote    RemoteConfig
	Kafka     KafkaConfig
	Log       LogConfig
	Engines   int
}

type ModelsConfig struct {
	Dir             string // base directory for relative model paths
	SSDConfig       string // res10 SSD prototxt
	SSDWeights      string // res10 SSD caffemodel
	Cascade         string // haar frontal face xml
	Embedding       string // ONNX embedding model, empty disables the trained path
	Locator         string // YuNet ONNX, used only alongside the embedding model
	EmbeddingInput  int    // square input side of the embedding model
	EmbeddingLength int
}

type DetectionConfig struct {
	Confidence        float64 // trained detector and remote detections
	CascadeScale      float64
	CascadeNeighbors  int
	CascadeMinSize    int
	LocatorConfidence float64
}

type EncodingConfig struct {
	DescriptorSize     int
	DescriptorFeatures int
}

type MatchingConfig struct {
	ThresholdModel      float64
	ThresholdDescriptor float64
}

type RiskConfig struct {
	HighRisk    float64 // HIGH_RISK_DETECTED fires above this
	ZoneRisk    float64 // UNAUTHORIZED_ZONE_ACCESS fires above this
	Critical    float64 // alert level CRITICAL at or above this
	AlertHigh   float64 // alert level HIGH at or above this
	Elevated    float64 // per-detection threat MEDIUM above this
	DefaultRisk float64 // used for identities missing from the risk table
}

type SamplingConfig struct {
	NthFrame  int
	MaxFrames int
	Width     int // working resolution, 0 keeps the source size
	Height    int
}

type EnhanceConfig struct {
	CLAHE     bool
	ClipLimit float64
	TileSize  int
	Denoise   bool
	DenoiseH  float64
}

type RemoteConfig struct {
	URL          string
	DetectKey    string
	RecognizeKey string
	Timeout      time.Duration
	ProbeTimeout time.Duration
	Recheck      time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type LogConfig struct {
	Level       string
	Development bool
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Models: ModelsConfig{
			Dir:             "models",
			SSDConfig:       "deploy.prototxt.txt",
			SSDWeights:      "res10_300x300_ssd_iter_140000.caffemodel",
			Cascade:         "haarcascade_frontalface_default.xml",
			Locator:         "face_detection_yunet_2023mar.onnx",
			EmbeddingInput:  112,
			EmbeddingLength: 512,
		},
		Detection: DetectionConfig{
			Confidence:        0.5,
			CascadeScale:      1.05,
			CascadeNeighbors:  3,
			CascadeMinSize:    30,
			LocatorConfidence: 0.6,
		},
		Encoding: EncodingConfig{
			DescriptorSize:     128,
			DescriptorFeatures: 256,
		},
		Matching: MatchingConfig{
			ThresholdModel:      0.8,
			ThresholdDescriptor: 1.15,
		},
		Risk: RiskConfig{
			HighRisk:    70,
			ZoneRisk:    60,
			Critical:    80,
			AlertHigh:   60,
			Elevated:    50,
			DefaultRisk: 50,
		},
		Sampling: SamplingConfig{
			NthFrame:  5,
			MaxFrames: 500,
			Width:     640,
			Height:    480,
		},
		Enhance: EnhanceConfig{
			CLAHE:     true,
			ClipLimit: 2.0,
			TileSize:  8,
			Denoise:   false,
			DenoiseH:  10,
		},
		Remote: RemoteConfig{
			Timeout:      30 * time.Second,
			ProbeTimeout: 5 * time.Second,
			Recheck:      time.Minute,
		},
		Kafka: KafkaConfig{
			Topic: "faceguard.alerts",
		},
		Log: LogConfig{
			Level: "info",
		},
		Engines: 1,
	}
}

// Load reads FACEGUARD_* environment variables on top of the defaults.
func Load() *Config {
	c := Default()

	c.Models.Dir = envString("FACEGUARD_MODELS_DIR", c.Models.Dir)
	c.Models.SSDConfig = envString("FACEGUARD_SSD_CONFIG", c.Models.SSDConfig)
	c.Models.SSDWeights = envString("FACEGUARD_SSD_WEIGHTS", c.Models.SSDWeights)
	c.Models.Cascade = envString("FACEGUARD_CASCADE", c.Models.Cascade)
	c.Models.Embedding = envString("FACEGUARD_EMBEDDING_MODEL", c.Models.Embedding)
	c.Models.Locator = envString("FACEGUARD_LOCATOR_MODEL", c.Models.Locator)
	c.Models.EmbeddingInput = envInt("FACEGUARD_EMBEDDING_INPUT", c.Models.EmbeddingInput)
	c.Models.EmbeddingLength = envInt("FACEGUARD_EMBEDDING_LENGTH", c.Models.EmbeddingLength)

	c.Detection.Confidence = envFloat("FACEGUARD_DETECTION_CONFIDENCE", c.Detection.Confidence)
	c.Encoding.DescriptorSize = envInt("FACEGUARD_DESCRIPTOR_SIZE", c.Encoding.DescriptorSize)

	c.Matching.ThresholdModel = envFloat("FACEGUARD_MATCH_THRESHOLD_MODEL", c.Matching.ThresholdModel)
	c.Matching.ThresholdDescriptor = envFloat("FACEGUARD_MATCH_THRESHOLD_DESCRIPTOR", c.Matching.ThresholdDescriptor)

	c.Risk.HighRisk = envFloat("FACEGUARD_HIGH_RISK", c.Risk.HighRisk)
	c.Risk.ZoneRisk = envFloat("FACEGUARD_ZONE_RISK", c.Risk.ZoneRisk)
	c.Risk.Critical = envFloat("FACEGUARD_CRITICAL_RISK", c.Risk.Critical)
	c.Risk.DefaultRisk = envFloat("FACEGUARD_DEFAULT_RISK", c.Risk.DefaultRisk)

	c.Sampling.NthFrame = envInt("FACEGUARD_NTH_FRAME", c.Sampling.NthFrame)
	c.Sampling.MaxFrames = envInt("FACEGUARD_MAX_FRAMES", c.Sampling.MaxFrames)

	c.Enhance.CLAHE = envBool("FACEGUARD_CLAHE", c.Enhance.CLAHE)
	c.Enhance.Denoise = envBool("FACEGUARD_DENOISE", c.Enhance.Denoise)

	c.Remote.URL = envString("COMPREFACE_URL", c.Remote.URL)
	c.Remote.DetectKey = envString("COMPREFACE_DETECTION_KEY", c.Remote.DetectKey)
	c.Remote.RecognizeKey = envString("COMPREFACE_RECOGNITION_KEY", c.Remote.RecognizeKey)
	c.Remote.Timeout = envDuration("COMPREFACE_TIMEOUT", c.Remote.Timeout)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
	c.Kafka.Topic = envString("KAFKA_ALERT_TOPIC", c.Kafka.Topic)

	c.Log.Level = envString("FACEGUARD_LOG_LEVEL", c.Log.Level)
	c.Log.Development = envBool("FACEGUARD_LOG_DEV", c.Log.Development)
	c.Engines = envInt("FACEGUARD_ENGINES", c.Engines)

	return c
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Sampling.NthFrame < 1 {
		return fmt.Errorf("nth-frame must be >= 1, got %d", c.Sampling.NthFrame)
	}
	if c.Sampling.MaxFrames < 1 {
		return fmt.Errorf("max-frames must be >= 1, got %d", c.Sampling.MaxFrames)
	}
	if c.Encoding.DescriptorSize < 1 {
		return fmt.Errorf("descriptor size must be >= 1, got %d", c.Encoding.DescriptorSize)
	}
	if c.Matching.ThresholdModel <= 0 || c.Matching.ThresholdDescriptor <= 0 {
		return fmt.Errorf("match thresholds must be positive")
	}
	if c.Detection.Confidence < 0 || c.Detection.Confidence > 1 {
		return fmt.Errorf("detection confidence must be between 0.0 and 1.0, got %f", c.Detection.Confidence)
	}
	if c.Engines < 1 {
		c.Engines = 1
	}
	return nil
}

// ModelPath resolves a model file name against the models directory.
func (c *Config) ModelPath(name string) string {
	if name == "" || strings.HasPrefix(name, "/") || c.Models.Dir == "" {
		return name
	}
	return c.Models.Dir + "/" + name
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}
