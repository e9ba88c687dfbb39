package persistence_test

import (
	"PerpLiquidator/internal/core"
	"PerpLiquidator/internal/persistence"
	"PerpLiquidator/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_PersistAndRecover(t *testing.T) {
	testutil.RequireIntegration(t)
	db := testutil.SetupTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := persistence.NewMigrator(db, testutil.MigrationsDir(t)).Up(ctx)
	require.NoError(t, err)

	engine, outputs := runEngine(t)

	input := make(chan core.CoreOutput, len(outputs))
	for _, out := range outputs {
		input <- out
	}
	close(input)

	var committed int
	worker := persistence.NewPersistenceWorker(db, input, 2, time.Millisecond, nil)
	worker.OnCommit(func(_ context.Context, outs []core.CoreOutput) { committed += len(outs) })
	require.NoError(t, worker.Run(ctx))
	assert.Equal(t, len(outputs), committed)

	dup, err := persistence.NewPostgresIdempotencyChecker(db).IsDuplicate(
		outputs[0].Envelope.EventType.String(), outputs[0].Envelope.IdempotencyKey)
	require.NoError(t, err)
	assert.True(t, dup)

	sm := persistence.NewSnapshotManager(db, nil)
	latest, err := sm.GetLatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.GetSequence()-1, latest)

	restored := core.NewEngine(0, nil, nil, nil, nil)
	result, err := persistence.Recover(ctx, sm, restored, nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, int64(-1), result.SnapshotSequence)
	assert.Equal(t, int64(len(outputs)), result.Replayed)
	assert.Equal(t, engine.GetStateHash(), restored.GetStateHash())

	seq, err := sm.TakeSnapshot(ctx, restored)
	require.NoError(t, err)
	assert.Equal(t, restored.GetSequence(), seq)

	warm := core.NewEngine(0, nil, nil, nil, nil)
	result, err = persistence.Recover(ctx, sm, warm, nil, testLogger())
	require.NoError(t, err)
	assert.Zero(t, result.Replayed)
	assert.Equal(t, engine.GetStateHash(), warm.GetStateHash())
}
