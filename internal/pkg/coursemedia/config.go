package coursemedia

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/DanielKirsch/CourseHive/internal/pkg/env"
)

// Config holds S3 configuration for course media (covers, lesson videos,
// downloadable materials).
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
}

// LoadConfig loads S3 configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Enabled:         env.GetEnv("S3_MEDIA_ENABLED", "false") == "true",
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when S3 media is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when S3 media is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when S3 media is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if S3 media storage is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// CoverObjectKey generates the object key for a course cover image.
// Format: courses/<courseID>/cover/<uuid><ext>
func CoverObjectKey(courseID uint, fileExtension string) string {
	return fmt.Sprintf("courses/%d/cover/%s%s", courseID, uuid.NewString(), fileExtension)
}
