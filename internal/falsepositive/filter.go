// Package falsepositive holds the operator-maintained set of exempt identifiers.
package falsepositive

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/scan-io-git/sweeper/pkg/shared/files"
)

const cacheKey = "exemptions"

type snapshot struct {
	ids    map[string]struct{}
	digest uint64
}

// Filter answers whether a finding identifier is a known false positive.
// When a refresh interval is set the file is re-read once the cached set expires.
type Filter struct {
	path    string
	refresh time.Duration
	logger  hclog.Logger

	mu      sync.RWMutex
	current snapshot
	cache   *ttlcache.Cache[string, snapshot]
	loader  ttlcache.Loader[string, snapshot]
	group   singleflight.Group
}

// New loads the exemption file at path, creating it empty when it does not exist.
func New(path string, refresh time.Duration, logger hclog.Logger) (*Filter, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	created, err := files.EnsureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare false positive file: %w", err)
	}
	if created {
		logger.Info("created empty false positive file", "path", path)
	}

	f := &Filter{path: path, refresh: refresh, logger: logger}
	snap, err := f.read()
	if err != nil {
		return nil, err
	}
	f.current = snap
	logger.Debug("loaded false positives", "path", path, "count", len(snap.ids))

	if refresh > 0 {
		f.cache = ttlcache.New[string, snapshot](
			ttlcache.WithTTL[string, snapshot](refresh),
			ttlcache.WithDisableTouchOnHit[string, snapshot](),
		)
		f.cache.Set(cacheKey, snap, ttlcache.DefaultTTL)
		f.loader = ttlcache.NewSuppressedLoader[string, snapshot](ttlcache.LoaderFunc[string, snapshot](f.load), &f.group)
	}
	return f, nil
}

// IsExempt reports whether any of the given identifiers is listed.
func (f *Filter) IsExempt(ids ...string) bool {
	snap := f.snapshot()
	for _, id := range ids {
		if _, ok := snap.ids[strings.TrimSpace(id)]; ok {
			return true
		}
	}
	return false
}

// Identifiers returns the current exempt identifiers, sorted.
func (f *Filter) Identifiers() []string {
	snap := f.snapshot()
	out := make([]string, 0, len(snap.ids))
	for id := range snap.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of exempt identifiers.
func (f *Filter) Len() int {
	return len(f.snapshot().ids)
}

func (f *Filter) snapshot() snapshot {
	if f.cache != nil {
		if item := f.cache.Get(cacheKey, ttlcache.WithLoader[string, snapshot](f.loader)); item != nil {
			return item.Value()
		}
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// load re-reads the file after the cached set expired. The parsed set is
// replaced only when the file content changed, and a failed read keeps the
// previous set.
func (f *Filter) load(c *ttlcache.Cache[string, snapshot], key string) *ttlcache.Item[string, snapshot] {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap, err := f.read()
	switch {
	case err != nil:
		f.logger.Warn("failed to reload false positives, keeping previous set", "path", f.path, "error", err)
	case snap.digest != f.current.digest:
		f.logger.Info("false positive file changed, reloaded", "path", f.path, "count", len(snap.ids))
		f.current = snap
	}
	return c.Set(key, f.current, ttlcache.DefaultTTL)
}

func (f *Filter) read() (snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return snapshot{}, fmt.Errorf("failed to read false positive file %q: %w", f.path, err)
	}
	return parse(data), nil
}

func parse(data []byte) snapshot {
	snap := snapshot{ids: make(map[string]struct{}), digest: xxhash.Sum64(data)}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		snap.ids[line] = struct{}{}
	}
	return snap
}
