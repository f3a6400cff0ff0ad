package bitbucket

import (
	"fmt"
	"strings"

	"github.com/gitsight/go-vcsurl"
)

// ExtractCloneLinks parses the clone links from the repository information and returns the HTTP and SSH URLs.
func ExtractCloneLinks(clones []CloneLink) (httpLink, sshLink string) {
	for _, clone := range clones {
		switch clone.Name {
		case "http", "https":
			httpLink = clone.Href
		case "ssh":
			sshLink = clone.Href
		}
	}
	return
}

// parseRepositoryKey resolves an operator-supplied repository entry into a
// workspace and slug. Entries may be a bare slug, "workspace/slug" or a
// repository URL.
func parseRepositoryKey(entry, defaultWorkspace string) (workspace, slug string, err error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return "", "", fmt.Errorf("empty repository entry")
	}

	if strings.Contains(entry, "://") || strings.HasPrefix(entry, "git@") {
		info, err := vcsurl.Parse(entry)
		if err != nil {
			return "", "", fmt.Errorf("failed to parse repository URL %q: %w", entry, err)
		}
		return info.Username, info.Name, nil
	}

	if ws, s, ok := strings.Cut(entry, "/"); ok {
		if ws == "" || s == "" || strings.Contains(s, "/") {
			return "", "", fmt.Errorf("invalid repository entry %q", entry)
		}
		return ws, s, nil
	}

	if defaultWorkspace == "" {
		return "", "", fmt.Errorf("repository %q has no workspace and bitbucket.workspace is not set", entry)
	}
	return defaultWorkspace, entry, nil
}

// sourceID is the identity of a repository: its slug inside the configured
// workspace, "workspace/slug" otherwise.
func sourceID(workspace, slug, defaultWorkspace string) string {
	if workspace == defaultWorkspace {
		return slug
	}
	return workspace + "/" + slug
}
