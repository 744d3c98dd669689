package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StorageBackend selects the storage adapter that holds the backing file.
type StorageBackend string

const (
	StorageLocal StorageBackend = "local"
	StorageS3    StorageBackend = "s3"
)

// CodecBackend selects the image library used to fit and encode.
type CodecBackend string

const (
	CodecStdlib CodecBackend = "stdlib"
	CodecVips   CodecBackend = "vips"
)

// Config is the top-level configuration struct.  Start from Default() and
// override only what you need; Load and ApplyEnv layer a file and the
// environment on top.
type Config struct {
	// Backing file location.  FileName is a logical name resolved against
	// StorageDir (local) or S3.Prefix (s3).
	StorageDir string         `yaml:"storage_dir" env:"STORAGE_DIR"`
	FileName   string         `yaml:"file_name" env:"FILE_NAME"`
	Storage    StorageBackend `yaml:"storage" env:"STORAGE"`
	Local      LocalConfig    `yaml:"local" envPrefix:"LOCAL_"`
	S3         S3Config       `yaml:"s3" envPrefix:"S3_"`

	Codec       CodecConfig `yaml:"codec" envPrefix:"CODEC_"`
	BoundingBox BoxConfig   `yaml:"bounding_box" envPrefix:"BOX_"`

	// Worker pool controls.
	WorkerCount int           `yaml:"worker_count" env:"WORKER_COUNT"` // default: runtime.NumCPU()
	QueueSize   int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	JobTimeout  time.Duration `yaml:"job_timeout" env:"JOB_TIMEOUT"`

	// Retry of transient failures (pipeline steps and backing-file writes).
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`

	// Streaming / memory limits.
	MaxImageBytes int64 `yaml:"max_image_bytes" env:"MAX_IMAGE_BYTES"` // 0 = no limit
	ChunkSize     int   `yaml:"chunk_size" env:"CHUNK_SIZE"`

	// Logging.
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`   // "debug", "info", "warn", "error"
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"` // "text", "json"
}

// LocalConfig configures the local filesystem storage adapter.
type LocalConfig struct {
	Permissions uint32 `yaml:"permissions" env:"PERMISSIONS"` // default 0600
}

// S3Config configures the S3 storage adapter.
type S3Config struct {
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	Region          string `yaml:"region" env:"REGION"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"` // optional custom endpoint (MinIO, etc.)
	Prefix          string `yaml:"prefix" env:"PREFIX"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `yaml:"use_path_style" env:"USE_PATH_STYLE"`
}

// CodecConfig controls how acquired images become payloads.
type CodecConfig struct {
	Backend      CodecBackend `yaml:"backend" env:"BACKEND"`
	Quality      int          `yaml:"quality" env:"QUALITY"`             // 1-100; default 100
	Interpolator string       `yaml:"interpolator" env:"INTERPOLATOR"` // catmullrom, bilinear, approxbilinear, nearest
}

// BoxConfig is the bounding box acquired images are fitted into.
type BoxConfig struct {
	Width  int `yaml:"width" env:"WIDTH"`
	Height int `yaml:"height" env:"HEIGHT"`
}

// DefaultFileName is the logical name of the backing file.
const DefaultFileName = "images.cbor"

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		StorageDir: DefaultStorageDir(),
		FileName:   DefaultFileName,
		Storage:    StorageLocal,
		Local:      LocalConfig{Permissions: 0o600},
		S3:         S3Config{Region: "us-east-1"},
		Codec: CodecConfig{
			Backend:      CodecStdlib,
			Quality:      100,
			Interpolator: "catmullrom",
		},
		// A phone screen in pixels.
		BoundingBox: BoxConfig{Width: 1170, Height: 2532},
		WorkerCount: 0, // resolved at runtime to NumCPU
		QueueSize:   64,
		JobTimeout:  30 * time.Second,
		MaxRetries:  2,
		RetryDelay:  200 * time.Millisecond,
		// Camera originals rarely exceed this.
		MaxImageBytes: 64 << 20,
		ChunkSize:     32 * 1024,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// DefaultStorageDir returns the per-user directory holding backing files.
func DefaultStorageDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".imageshelf"
	}
	return filepath.Join(dir, "imageshelf")
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	var errs []error
	if c.FileName == "" || strings.ContainsAny(c.FileName, `/\`) || c.FileName == "." || c.FileName == ".." {
		errs = append(errs, fmt.Errorf("config: FileName %q must be a plain file name", c.FileName))
	}
	switch c.Storage {
	case StorageLocal:
		if c.StorageDir == "" {
			errs = append(errs, errors.New("config: StorageDir is required for local storage"))
		}
	case StorageS3:
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("config: S3.Bucket is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown Storage %q", c.Storage))
	}
	switch c.Codec.Backend {
	case CodecStdlib, CodecVips:
	default:
		errs = append(errs, fmt.Errorf("config: unknown Codec.Backend %q", c.Codec.Backend))
	}
	if c.Codec.Quality < 1 || c.Codec.Quality > 100 {
		errs = append(errs, errors.New("config: Codec.Quality must be between 1 and 100"))
	}
	if c.BoundingBox.Width <= 0 || c.BoundingBox.Height <= 0 {
		errs = append(errs, errors.New("config: BoundingBox must be positive in both dimensions"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, errors.New("config: ChunkSize must be positive"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("config: MaxRetries must not be negative"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: unknown LogFormat %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
