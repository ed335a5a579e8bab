package deployment

import (
	"strings"

	"github.com/google/uuid"
)

const maxSlugLen = 60

// RepoName derives the artifact name for a deployment: a lowercase slug of
// name followed by the first eight hex digits of id.
func RepoName(name string, id uuid.UUID) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}

	suffix := strings.ReplaceAll(id.String(), "-", "")[:8]
	if slug == "" {
		return "site-" + suffix
	}
	return slug + "-" + suffix
}
