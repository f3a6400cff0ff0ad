package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/sweeper/pkg/shared/files"
)

// GetArtifactName returns the artifact base name.
// Example: scan_jira_2025-09-15T08:28:46Z.sweeper-artifact.
func GetArtifactName(command, provider string, t time.Time) string {
	ts := t.UTC().Format(time.RFC3339)
	return fmt.Sprintf("%s_%s_%s.sweeper-artifact", command, provider, ts)
}

// SaveArtifactJSON writes result to <dir>/<base>.json and returns the full path.
func SaveArtifactJSON(dir string, logger hclog.Logger, command, provider string, t time.Time, result any) (string, error) {
	path := filepath.Join(dir, GetArtifactName(command, provider, t)+".json")

	resultData, err := json.MarshalIndent(result, "", "    ")
	if err != nil {
		return path, fmt.Errorf("error marshaling the result data: %w", err)
	}
	if err := files.CreateFolderIfNotExists(dir); err != nil {
		return path, err
	}
	if err := os.WriteFile(path, resultData, 0o644); err != nil {
		return path, fmt.Errorf("error writing artifact: %w", err)
	}
	logger.Info("artifact saved to file", "path", path)

	return path, nil
}
