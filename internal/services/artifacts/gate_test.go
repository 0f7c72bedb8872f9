package artifacts_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nl2sqlgen-client/internal/services/artifacts"
	"nl2sqlgen-client/internal/services/orchestrator"
)

type recordingDownloader struct {
	names []string
	paths []string
}

func (d *recordingDownloader) DownloadArtifact(ctx context.Context, name, destPath string) error {
	d.names = append(d.names, name)
	d.paths = append(d.paths, destPath)
	return nil
}

func TestEnabled(t *testing.T) {
	t.Run("Should disable everything before completion", func(t *testing.T) {
		for _, phase := range []orchestrator.Phase{
			orchestrator.PhaseIdle,
			orchestrator.PhaseSubmitting,
			orchestrator.PhaseRunning,
			orchestrator.PhaseFailed,
			orchestrator.PhaseCancelled,
		} {
			snap := orchestrator.Snapshot{Phase: phase, Dialect: "mysql"}
			assert.False(t, artifacts.Enabled(snap, artifacts.KindDataset), "phase %s", phase)
			assert.False(t, artifacts.Enabled(snap, artifacts.KindRAGBundle), "phase %s", phase)
			assert.Empty(t, artifacts.EnabledArtifacts(snap))
		}
	})

	t.Run("Should enable both artifacts for a completed mysql run", func(t *testing.T) {
		snap := orchestrator.Snapshot{Phase: orchestrator.PhaseCompleted, Dialect: "mysql"}
		assert.ElementsMatch(t,
			[]artifacts.Kind{artifacts.KindDataset, artifacts.KindRAGBundle},
			artifacts.EnabledArtifacts(snap))
	})

	t.Run("Should withhold the rag bundle for other dialects", func(t *testing.T) {
		for _, dialect := range []string{"postgresql", "sqlite", "sqlserver", ""} {
			snap := orchestrator.Snapshot{Phase: orchestrator.PhaseCompleted, Dialect: dialect}
			assert.True(t, artifacts.Enabled(snap, artifacts.KindDataset))
			assert.False(t, artifacts.Enabled(snap, artifacts.KindRAGBundle), "dialect %q", dialect)
		}
	})

	t.Run("Should reject unknown kinds", func(t *testing.T) {
		snap := orchestrator.Snapshot{Phase: orchestrator.PhaseCompleted, Dialect: "mysql"}
		assert.False(t, artifacts.Enabled(snap, artifacts.Kind("checkpoint")))
	})
}

func TestFetch(t *testing.T) {
	t.Run("Should map kinds to backend download names", func(t *testing.T) {
		snap := orchestrator.Snapshot{Phase: orchestrator.PhaseCompleted, Dialect: "mysql"}
		dl := &recordingDownloader{}

		require.NoError(t, artifacts.Fetch(context.Background(), dl, snap, artifacts.KindDataset, "/tmp/nl2sql.jsonl"))
		require.NoError(t, artifacts.Fetch(context.Background(), dl, snap, artifacts.KindRAGBundle, "/tmp/ddl_mysql.zip"))

		assert.Equal(t, []string{"latest", "rag"}, dl.names)
		assert.Equal(t, []string{"/tmp/nl2sql.jsonl", "/tmp/ddl_mysql.zip"}, dl.paths)
	})

	t.Run("Should refuse a disabled artifact without touching the backend", func(t *testing.T) {
		snap := orchestrator.Snapshot{Phase: orchestrator.PhaseCompleted, Dialect: "postgresql"}
		dl := &recordingDownloader{}

		err := artifacts.Fetch(context.Background(), dl, snap, artifacts.KindRAGBundle, "/tmp/ddl_mysql.zip")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not available")
		assert.Empty(t, dl.names)
	})
}
