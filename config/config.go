package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DatabaseDriverSQLite = "sqlite"
	DatabaseDriverMySQL  = "mysql"

	SamplesBackendLocal = "local"
	SamplesBackendMinio = "minio"

	DefaultSamplesSubDir = "rostros"
	DefaultModelsSubDir  = "modelos"
	DefaultModelFilename = "lbph_model.bin"
)

const (
	defaultPort                = "5000"
	defaultDetectorProfile     = "standard"
	defaultConfidencePolicy    = "scaled"
	defaultConfidenceThreshold = 85
	defaultReferenceDistance   = 400.0
	defaultTrainingQueueSize   = 32
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

type Config struct {
	Port string

	// relational store holding identities
	DatabaseDriver string
	DatabasePath   string // sqlite file
	DatabaseDSN    string // mysql DSN

	// sample blob store
	SamplesBackend string
	SamplesPath    string // local backend root
	Minio          MinioConfig

	// trained model artifact
	ModelPath string

	// face detection
	CascadePath     string
	DetectorProfile string

	// recognition decision
	ConfidencePolicy    string
	ConfidenceThreshold int
	ReferenceDistance   float64

	TrainingQueueSize int

	AllowedOrigins []string

	LogLevel       string
	LogDevelopment bool
}

// tunables is the optional YAML overlay pointed at by FACEID_CONFIG.
// Environment variables still win over values set here.
type tunables struct {
	DetectorProfile     *string  `yaml:"detector_profile"`
	ConfidencePolicy    *string  `yaml:"confidence_policy"`
	ConfidenceThreshold *int     `yaml:"confidence_threshold"`
	ReferenceDistance   *float64 `yaml:"reference_distance"`
	CascadePath         *string  `yaml:"cascade_path"`
	AllowedOrigins      []string `yaml:"allowed_origins"`
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvFloatOrDefault(envVar string, defaultVal float64) float64 {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %g. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvBoolOrDefault(envVar string, defaultVal bool) bool {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s'. Using default %t. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadTunables(path string) (tunables, error) {
	var t tunables
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}
	return t, nil
}

func LoadConfig() (Config, error) {
	cfg := Config{
		DetectorProfile:     defaultDetectorProfile,
		ConfidencePolicy:    defaultConfidencePolicy,
		ConfidenceThreshold: defaultConfidenceThreshold,
		ReferenceDistance:   defaultReferenceDistance,
		CascadePath:         filepath.Join(".", "models", "haarcascade_frontalface_default.xml"),
		AllowedOrigins:      []string{"*"},
	}

	if overlay := os.Getenv("FACEID_CONFIG"); overlay != "" {
		t, err := loadTunables(overlay)
		if err != nil {
			return Config{}, err
		}
		if t.DetectorProfile != nil {
			cfg.DetectorProfile = *t.DetectorProfile
		}
		if t.ConfidencePolicy != nil {
			cfg.ConfidencePolicy = *t.ConfidencePolicy
		}
		if t.ConfidenceThreshold != nil {
			cfg.ConfidenceThreshold = *t.ConfidenceThreshold
		}
		if t.ReferenceDistance != nil {
			cfg.ReferenceDistance = *t.ReferenceDistance
		}
		if t.CascadePath != nil {
			cfg.CascadePath = *t.CascadePath
		}
		if len(t.AllowedOrigins) > 0 {
			cfg.AllowedOrigins = t.AllowedOrigins
		}
	}

	cfg.Port = getEnvOrDefault("PORT", defaultPort)

	cfg.DatabaseDriver = strings.ToLower(getEnvOrDefault("DATABASE_DRIVER", DatabaseDriverSQLite))
	cfg.DatabasePath = getEnvOrDefault("DATABASE_PATH", "facial_recognition.db")
	cfg.DatabaseDSN = os.Getenv("DATABASE_DSN")

	cfg.SamplesBackend = strings.ToLower(getEnvOrDefault("SAMPLES_BACKEND", SamplesBackendLocal))
	samples := getEnvOrDefault("SAMPLES_PATH", filepath.Join(".", DefaultSamplesSubDir))
	absSamples, err := filepath.Abs(samples)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for samples directory '%s': %w", samples, err)
	}
	cfg.SamplesPath = absSamples

	cfg.Minio = MinioConfig{
		Endpoint:  os.Getenv("MINIO_ENDPOINT"),
		AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_SECRET_KEY"),
		Bucket:    getEnvOrDefault("MINIO_BUCKET", "faces"),
		Prefix:    getEnvOrDefault("MINIO_PREFIX", DefaultSamplesSubDir),
		UseSSL:    getEnvBoolOrDefault("MINIO_USE_SSL", false),
	}

	model := getEnvOrDefault("MODEL_PATH", filepath.Join(".", DefaultModelsSubDir, DefaultModelFilename))
	absModel, err := filepath.Abs(model)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for model file '%s': %w", model, err)
	}
	cfg.ModelPath = absModel

	cfg.CascadePath = getEnvOrDefault("CASCADE_PATH", cfg.CascadePath)
	cfg.DetectorProfile = strings.ToLower(getEnvOrDefault("DETECTOR_PROFILE", cfg.DetectorProfile))
	cfg.ConfidencePolicy = strings.ToLower(getEnvOrDefault("CONFIDENCE_POLICY", cfg.ConfidencePolicy))
	cfg.ConfidenceThreshold = getEnvIntOrDefault("CONFIDENCE_THRESHOLD", cfg.ConfidenceThreshold)
	cfg.ReferenceDistance = getEnvFloatOrDefault("REFERENCE_DISTANCE", cfg.ReferenceDistance)

	cfg.TrainingQueueSize = getEnvIntOrDefault("TRAINING_QUEUE_SIZE", defaultTrainingQueueSize)

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LogDevelopment = getEnvBoolOrDefault("LOG_DEVELOPMENT", false)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings that name an unknown backend or policy.
func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required for the sqlite driver")
		}
	case DatabaseDriverMySQL:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_DSN is required for the mysql driver")
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER '%s'", c.DatabaseDriver)
	}

	switch c.SamplesBackend {
	case SamplesBackendLocal:
	case SamplesBackendMinio:
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			return fmt.Errorf("MINIO_ENDPOINT and MINIO_BUCKET are required for the minio samples backend")
		}
	default:
		return fmt.Errorf("unsupported SAMPLES_BACKEND '%s'", c.SamplesBackend)
	}

	switch c.DetectorProfile {
	case "standard", "legacy":
	default:
		return fmt.Errorf("unsupported DETECTOR_PROFILE '%s'", c.DetectorProfile)
	}

	switch c.ConfidencePolicy {
	case "scaled", "raw":
	default:
		return fmt.Errorf("unsupported CONFIDENCE_POLICY '%s'", c.ConfidencePolicy)
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 100 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be within 0..100, got %d", c.ConfidenceThreshold)
	}
	return nil
}
