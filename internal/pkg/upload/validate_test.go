package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCoverBySniff(t *testing.T) {
	pngHead := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}
	jpegHead := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}

	tests := []struct {
		name     string
		filename string
		head     []byte
		wantErr  bool
	}{
		{"PNG with png extension", "cover.png", pngHead, false},
		{"JPEG with jpg extension", "cover.jpg", jpegHead, false},
		{"JPEG with uppercase extension", "COVER.JPG", jpegHead, false},
		{"Disallowed extension", "cover.gif", pngHead, true},
		{"No extension", "cover", pngHead, true},
		{"HTML masquerading as png", "cover.png", []byte("<!DOCTYPE html><html>"), true},
		{"SVG blocked", "cover.png", []byte(`<?xml version="1.0"?><svg></svg>`), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mime, err := ValidateCoverBySniff(tt.filename, tt.head)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.NotEmpty(t, mime)
		})
	}
}

func TestValidateCoverBySniffOctetStreamFallback(t *testing.T) {
	// WebP detection varies by Go version; a whitelisted extension with an
	// undetectable body must still pass.
	head := []byte{'R', 'I', 'F', 'F', 0, 0, 0, 0, 'W', 'E', 'B', 'P'}
	_, err := ValidateCoverBySniff("cover.webp", head)
	assert.NoError(t, err)
}
