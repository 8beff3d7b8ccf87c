// Package config loads service settings from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries every tunable of the service. Each field has a working
// default so the binary runs with an empty environment.
type Config struct {
	Addr       string
	Workers    int
	QueueSize  int
	SegmentDir string

	Detector string
	Model    string
	OnnxLib  string

	OCRLanguage string

	MinDetectConfidence float64
	MinOCRConfidence    float64
	ClusterGap          int
	SegmentMargin       int

	AdapterTimeout time.Duration
	Retries        int
	RetryDelay     time.Duration
}

// Load reads the environment and fills in defaults.
func Load() *Config {
	return &Config{
		Addr:       getEnv("MAPSCAN_ADDR", ":8080"),
		Workers:    getEnvInt("MAPSCAN_WORKERS", 4),
		QueueSize:  getEnvInt("MAPSCAN_QUEUE_SIZE", 64),
		SegmentDir: getEnv("MAPSCAN_SEGMENT_DIR", "./segments"),

		// "heuristic" needs no model files; "onnx" requires MAPSCAN_MODEL.
		Detector: getEnv("MAPSCAN_DETECTOR", "heuristic"),
		Model:    getEnv("MAPSCAN_MODEL", ""),
		OnnxLib:  getEnv("MAPSCAN_ONNX_LIB", ""),

		OCRLanguage: getEnv("MAPSCAN_OCR_LANG", "eng"),

		MinDetectConfidence: getEnvFloat("MAPSCAN_MIN_DETECT_CONF", 0.25),
		MinOCRConfidence:    getEnvFloat("MAPSCAN_MIN_OCR_CONF", 0.5),
		ClusterGap:          getEnvInt("MAPSCAN_CLUSTER_GAP", 40),
		SegmentMargin:       getEnvInt("MAPSCAN_SEGMENT_MARGIN", 16),

		AdapterTimeout: getEnvDuration("MAPSCAN_ADAPTER_TIMEOUT", 30*time.Second),
		Retries:        getEnvInt("MAPSCAN_RETRIES", 3),
		RetryDelay:     getEnvDuration("MAPSCAN_RETRY_DELAY", 100*time.Millisecond),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
