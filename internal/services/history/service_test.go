package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nl2sqlgen-client/internal/services/orchestrator"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	svc := NewService(db, zap.NewNop())
	require.NoError(t, svc.Start())
	return svc
}

func TestObserve(t *testing.T) {
	t.Run("Should record a completed run once", func(t *testing.T) {
		svc := newTestService(t)

		svc.Observe(orchestrator.Snapshot{RunID: "r1", Phase: orchestrator.PhaseSubmitting, Dialect: "mysql"})
		svc.Observe(orchestrator.Snapshot{RunID: "r1", Phase: orchestrator.PhaseRunning, Dialect: "mysql", TaskID: "task-9"})
		terminal := orchestrator.Snapshot{
			RunID: "r1", TaskID: "task-9", Phase: orchestrator.PhaseCompleted, Dialect: "mysql",
			Result: &orchestrator.Result{SamplesGenerated: 100, SamplesValid: 97},
		}
		svc.Observe(terminal)
		svc.Observe(terminal) // duplicate terminal notification

		runs, err := svc.ListRuns(10)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "r1", runs[0].ID)
		assert.Equal(t, "task-9", runs[0].TaskID)
		assert.Equal(t, "completed", runs[0].Phase)
		assert.Equal(t, 97, runs[0].SamplesValid)
		assert.False(t, runs[0].FinishedAt.IsZero())
	})

	t.Run("Should ignore non-terminal snapshots", func(t *testing.T) {
		svc := newTestService(t)

		svc.Observe(orchestrator.Snapshot{RunID: "r1", Phase: orchestrator.PhaseRunning})

		runs, err := svc.ListRuns(10)
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("Should record the failure kind and message", func(t *testing.T) {
		svc := newTestService(t)

		svc.Observe(orchestrator.Snapshot{
			RunID: "r2", Phase: orchestrator.PhaseFailed, Dialect: "postgresql",
			Result: &orchestrator.Result{
				ErrorMessage: "connection to the generation service was lost; the job may still be running on the server",
				FailureKind:  orchestrator.FailureTransport,
			},
		})

		runs, err := svc.ListRuns(10)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, orchestrator.FailureTransport, runs[0].FailureKind)
		assert.Contains(t, runs[0].ErrorMessage, "may still be running")
	})
}

func TestListRuns(t *testing.T) {
	t.Run("Should return newest first and honor the limit", func(t *testing.T) {
		svc := newTestService(t)

		for _, id := range []string{"a", "b", "c"} {
			svc.Observe(orchestrator.Snapshot{
				RunID: id, Phase: orchestrator.PhaseCompleted, Dialect: "mysql",
				Result: &orchestrator.Result{SamplesValid: 1},
			})
		}

		runs, err := svc.ListRuns(2)
		require.NoError(t, err)
		assert.Len(t, runs, 2)
	})
}

func TestClearHistory(t *testing.T) {
	t.Run("Should remove every record", func(t *testing.T) {
		svc := newTestService(t)

		svc.Observe(orchestrator.Snapshot{
			RunID: "r1", Phase: orchestrator.PhaseCancelled,
			Result: &orchestrator.Result{ErrorMessage: "cancelled by user"},
		})

		require.NoError(t, svc.ClearHistory())

		runs, err := svc.ListRuns(10)
		require.NoError(t, err)
		assert.Empty(t, runs)
	})
}
