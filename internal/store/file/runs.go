package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alanyoungcy/revbot/internal/domain"
)

var _ domain.SnapshotArchiver = (*Store)(nil)

// ArchiveRun writes snap to runs/<run_id>.json under the state directory.
func (s *Store) ArchiveRun(_ context.Context, snap domain.RunSnapshot) (string, error) {
	dir := filepath.Join(s.dir, runsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("file store: create %s: %w", runsDir, err)
	}
	path := filepath.Join(dir, snap.Report.RunID+".json")
	if err := s.writeJSON(filepath.Join(runsDir, snap.Report.RunID+".json"), snap); err != nil {
		return "", err
	}
	return path, nil
}
