// Package provider defines the contract between the scan engine and the
// systems it pulls content from.
package provider

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/scan-io-git/sweeper/internal/normalize"
)

// Provider names accepted on the command line.
const (
	Bitbucket = "bitbucket"
	Jira      = "jira"
)

// ErrUnknownProvider is returned for an unsupported provider name.
var ErrUnknownProvider = errors.New("unknown provider")

// SourceKind is the type of a top-level scan unit.
type SourceKind string

const (
	KindRepository     SourceKind = "repository"
	KindTrackerProject SourceKind = "tracker-project"
)

// ItemKind is the type of a fetchable unit inside a Source.
type ItemKind string

const (
	ItemFile        ItemKind = "file"
	ItemDescription ItemKind = "description"
	ItemComment     ItemKind = "comment"
	ItemAttachment  ItemKind = "attachment"
	ItemHistory     ItemKind = "history"
)

// Source is a repository or a tracker project.
type Source struct {
	ID     string
	Kind   SourceKind
	Branch string
	URL    string
}

// Key identifies the Source for deduplication and resume.
func (s Source) Key() string {
	if s.Branch == "" {
		return s.ID
	}
	return s.ID + "@" + s.Branch
}

// ParseKey splits a key produced by Source.Key. Repository slugs and project
// keys never contain "@", branch names may.
func ParseKey(key string) (id, branch string) {
	if i := strings.Index(key, "@"); i > 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

// SubItem is a single fetchable body inside a Source.
type SubItem struct {
	SourceID  string
	Kind      ItemKind
	Location  string
	Reference string
	// Name is the file or attachment name used for extension gating. Empty for text bodies.
	Name string
	// Ref is the provider-specific fetch handle.
	Ref string
}

// Ext returns the lower-cased extension of Name, or the whole name for dotfiles
// such as ".env". It is empty for items without a name.
func (i SubItem) Ext() string {
	if i.Name == "" {
		return ""
	}
	base := strings.ToLower(path.Base(i.Name))
	if strings.HasPrefix(base, ".") && strings.Count(base, ".") == 1 {
		return base
	}
	return path.Ext(base)
}

// Content is a fetched body and how to decode it.
type Content struct {
	Data   []byte
	Format normalize.Format
}

// Filter narrows ListSources.
type Filter struct {
	// Keys restricts the listing to the named sources. Empty means all.
	Keys []string
	// Since drops sources (or issues) not modified after it. Zero means no cutoff.
	Since time.Time
	// Branch restricts repository scans to one branch.
	Branch string
}

// Visitor receives sub-items in enumeration order. Returning an error stops the enumeration.
type Visitor func(SubItem) error

// Provider enumerates sources and their sub-items and fetches content bodies.
type Provider interface {
	Name() string
	ListSources(ctx context.Context, filter Filter) ([]Source, error)
	ListSubItems(ctx context.Context, src Source, visit Visitor) error
	Fetch(ctx context.Context, item SubItem) (Content, error)
}

// ValidateName checks a provider name.
func ValidateName(name string) error {
	switch name {
	case Bitbucket, Jira:
		return nil
	}
	return fmt.Errorf("%w: %q (supported: %s, %s)", ErrUnknownProvider, name, Bitbucket, Jira)
}

// Exemptions returns the identifiers under which a finding from item may be
// exempted: the location itself and, for repository files, the
// repository-qualified path.
func Exemptions(item SubItem) []string {
	if item.Kind == ItemFile {
		return []string{item.Location, item.SourceID + ":" + item.Location}
	}
	return []string{item.Location}
}
