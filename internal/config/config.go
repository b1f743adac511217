// Package config loads pipeline configuration from environment variables.
package config

import (
	"fmt"
	"os"
)

// Environment variable names read by Load.
const (
	EnvBaseURI     = "SNAPSHOT_BASE_URI"
	EnvSourceDir   = "SNAPSHOT_SOURCE_DIR"
	EnvS3Region    = "SNAPSHOT_S3_REGION"
	EnvS3Endpoint  = "SNAPSHOT_S3_ENDPOINT"
	EnvS3AccessKey = "SNAPSHOT_S3_ACCESS_KEY"
	EnvS3SecretKey = "SNAPSHOT_S3_SECRET_KEY"
	EnvS3PathStyle = "SNAPSHOT_S3_PATH_STYLE"
)

// Config holds pipeline configuration.
type Config struct {
	// BaseURI is the snapshot storage root. May be empty here; the caller
	// decides whether a flag overrides it before the base is validated.
	BaseURI string

	// SourceDir is the directory scanned for JSONL source files.
	SourceDir string

	// S3 client settings, used only when BaseURI is an s3:// URI.
	// Region defaults to us-east-1. Access and secret keys must be set
	// together; when unset the default AWS credential chain applies.
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	// S3PathStyle enables path-style addressing (MinIO, LocalStack).
	S3PathStyle bool
}

type ErrMissingRequiredEnvVar struct {
	Name string
}

func (e *ErrMissingRequiredEnvVar) Error() string {
	return fmt.Sprintf("required environment variable %q is not set", e.Name)
}

// Load reads configuration from environment variables.
//
// S3 credentials are pairwise required: setting only one of
// SNAPSHOT_S3_ACCESS_KEY / SNAPSHOT_S3_SECRET_KEY is an error.
func Load() (*Config, error) {
	config := Config{}
	config.BaseURI = os.Getenv(EnvBaseURI)

	config.SourceDir = os.Getenv(EnvSourceDir)
	if config.SourceDir == "" {
		config.SourceDir = "sources"
	}

	config.S3Region = os.Getenv(EnvS3Region)
	if config.S3Region == "" {
		config.S3Region = "us-east-1"
	}
	config.S3Endpoint = os.Getenv(EnvS3Endpoint)

	config.S3AccessKey = os.Getenv(EnvS3AccessKey)
	config.S3SecretKey = os.Getenv(EnvS3SecretKey)
	if config.S3AccessKey != "" && config.S3SecretKey == "" {
		return nil, &ErrMissingRequiredEnvVar{Name: EnvS3SecretKey}
	}
	if config.S3SecretKey != "" && config.S3AccessKey == "" {
		return nil, &ErrMissingRequiredEnvVar{Name: EnvS3AccessKey}
	}

	config.S3PathStyle = os.Getenv(EnvS3PathStyle) == "true"

	return &config, nil
}
