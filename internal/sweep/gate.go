package sweep

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/scan-io-git/sweeper/internal/provider"
)

// noExtension is the skipped-extension bucket of names without one.
const noExtension = "(none)"

// gate decides which sub-items are fetched.
type gate struct {
	allowed  map[string]struct{}
	excludes []string
}

func newGate(allowed, excludes []string) (*gate, error) {
	g := &gate{allowed: make(map[string]struct{}, len(allowed))}
	for _, ext := range allowed {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		g.allowed[ext] = struct{}{}
	}
	for _, pattern := range excludes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
		g.excludes = append(g.excludes, pattern)
	}
	return g, nil
}

// excluded reports whether a repository file matches an exclude glob.
func (g *gate) excluded(item provider.SubItem) bool {
	if item.Kind != provider.ItemFile {
		return false
	}
	for _, pattern := range g.excludes {
		if ok, _ := doublestar.Match(pattern, item.Location); ok {
			return true
		}
	}
	return false
}

// allow reports whether a named item has an allowed extension. Items without
// a name are text bodies and always pass. The returned extension is the
// bucket to count a rejected item under.
func (g *gate) allow(item provider.SubItem) (bool, string) {
	if item.Name == "" {
		return true, ""
	}
	ext := item.Ext()
	if ext == "" {
		return false, noExtension
	}
	_, ok := g.allowed[ext]
	return ok, ext
}
