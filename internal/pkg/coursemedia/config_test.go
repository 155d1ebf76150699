package coursemedia

import (
	"strings"
	"testing"
)

func TestCoverObjectKey(t *testing.T) {
	key := CoverObjectKey(42, ".jpg")
	if !strings.HasPrefix(key, "courses/42/cover/") || !strings.HasSuffix(key, ".jpg") {
		t.Fatalf("unexpected cover key: %s", key)
	}
	if key == CoverObjectKey(42, ".jpg") {
		t.Fatalf("cover keys must be unique per upload")
	}
}

func TestLoadConfig_DisabledNeedsNothing(t *testing.T) {
	t.Setenv("S3_MEDIA_ENABLED", "false")
	t.Setenv("S3_ACCESS_KEY_ID", "")
	t.Setenv("S3_SECRET_ACCESS_KEY", "")
	t.Setenv("S3_BUCKET_NAME", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("disabled config must load: %v", err)
	}
	if cfg.IsEnabled() {
		t.Fatalf("expected disabled config")
	}
}

func TestLoadConfig_EnabledValidates(t *testing.T) {
	t.Setenv("S3_MEDIA_ENABLED", "true")
	t.Setenv("S3_ACCESS_KEY_ID", "key")
	t.Setenv("S3_SECRET_ACCESS_KEY", "secret")
	t.Setenv("S3_BUCKET_NAME", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for missing bucket")
	}

	t.Setenv("S3_BUCKET_NAME", "media")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.IsEnabled() || cfg.BucketName != "media" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
