package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralproject/corral/pkg/config"
	"github.com/corralproject/corral/pkg/faults"
	"github.com/corralproject/corral/pkg/models"
	"github.com/corralproject/corral/pkg/storage/memstore"
)

func seedAudit(t *testing.T, store *memstore.AuditStore, age time.Duration) {
	t.Helper()
	require.NoError(t, store.Append(context.Background(), &models.AuditRecord{
		InvocationID: uuid.NewString(),
		ToolID:       "github.sync_issues",
		TenantID:     "acme",
		Ts:           time.Now().UTC().Add(-age),
		Outcome:      models.AuditSuccess,
	}))
}

func seedRun(t *testing.T, store *memstore.RunStore, status models.RunStatus, age time.Duration) string {
	t.Helper()
	started := time.Now().UTC().Add(-age)
	run := &models.PipelineRun{
		ID:        uuid.NewString(),
		TenantID:  "acme",
		ToolID:    "github.sync_issues",
		Mode:      models.RunModePull,
		Status:    status,
		StartedAt: started,
	}
	if status != models.RunRunning {
		completed := started.Add(time.Minute)
		run.CompletedAt = &completed
	}
	require.NoError(t, store.Create(context.Background(), run))
	return run.ID
}

func TestRunAllPurgesExpiredData(t *testing.T) {
	audit := memstore.NewAuditStore()
	runs := memstore.NewRunStore()
	seedAudit(t, audit, 100*24*time.Hour)
	seedAudit(t, audit, time.Hour)
	oldRun := seedRun(t, runs, models.RunCompleted, 60*24*time.Hour)
	freshRun := seedRun(t, runs, models.RunCompleted, time.Hour)

	s := NewService(&config.RetentionConfig{
		AuditRetentionDays: 90,
		RunRetentionDays:   30,
		CleanupInterval:    time.Hour,
	}, audit, runs, nil)
	s.runAll(context.Background())

	recs, err := audit.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	_, err = runs.Get(context.Background(), oldRun)
	assert.Equal(t, faults.NotFound, faults.KindOf(err))
	_, err = runs.Get(context.Background(), freshRun)
	assert.NoError(t, err)
}

func TestRunAllKeepsRunningRuns(t *testing.T) {
	runs := memstore.NewRunStore()
	id := seedRun(t, runs, models.RunRunning, 365*24*time.Hour)

	s := NewService(&config.RetentionConfig{
		AuditRetentionDays: 90,
		RunRetentionDays:   30,
		CleanupInterval:    time.Hour,
	}, memstore.NewAuditStore(), runs, nil)
	s.runAll(context.Background())

	got, err := runs.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, got.Status)
}

func TestStartStopLifecycle(t *testing.T) {
	s := NewService(&config.RetentionConfig{
		AuditRetentionDays: 90,
		RunRetentionDays:   30,
		CleanupInterval:    time.Hour,
	}, memstore.NewAuditStore(), memstore.NewRunStore(), nil)

	s.Start(context.Background())
	s.Start(context.Background()) // idempotent
	s.Stop()
}

func TestDisabledRetentionIsNoOp(t *testing.T) {
	audit := memstore.NewAuditStore()
	seedAudit(t, audit, 1000*24*time.Hour)

	s := NewService(&config.RetentionConfig{CleanupInterval: time.Hour}, audit, memstore.NewRunStore(), nil)
	s.runAll(context.Background())

	recs, err := audit.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

type fakePurger struct {
	cutoffs []time.Time
}

func (f *fakePurger) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return 3, nil
}

func TestEventPurgerSharesRunWindow(t *testing.T) {
	s := NewService(&config.RetentionConfig{
		RunRetentionDays: 30,
		CleanupInterval:  time.Hour,
	}, memstore.NewAuditStore(), memstore.NewRunStore(), nil)
	purger := &fakePurger{}
	s.SetEventPurger(purger)

	s.runAll(context.Background())

	require.Len(t, purger.cutoffs, 1)
	wantCutoff := time.Now().UTC().AddDate(0, 0, -30)
	assert.WithinDuration(t, wantCutoff, purger.cutoffs[0], time.Minute)
}
