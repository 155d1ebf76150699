package shortener

import (
	"strings"
	"testing"
)

func TestGenerateSecureSlug(t *testing.T) {
	t.Parallel()

	if _, err := GenerateSecureSlug(0); err == nil {
		t.Fatal("expected error for zero length")
	}
	if _, err := GenerateSecureSlug(-3); err == nil {
		t.Fatal("expected error for negative length")
	}

	for _, length := range []int{1, 6, 32} {
		slug, err := GenerateSecureSlug(length)
		if err != nil {
			t.Fatalf("unexpected error for length %d: %v", length, err)
		}
		if len(slug) != length {
			t.Fatalf("expected length %d, got %d", length, len(slug))
		}
		for i := 0; i < len(slug); i++ {
			if strings.IndexByte(alphabet, slug[i]) == -1 {
				t.Fatalf("slug %q contains character outside the alphabet", slug)
			}
		}
	}
}

func TestGenerateSecureSlugCollisions(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{}, 200)
	for i := 0; i < 200; i++ {
		slug, err := GenerateSecureSlug(8)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, dup := seen[slug]; dup {
			t.Fatalf("duplicate slug %q in a batch of 200", slug)
		}
		seen[slug] = struct{}{}
	}
}
