package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSweeper_Validation(t *testing.T) {
	store := NewStore()

	_, err := NewSweeper(nil, "@every 1m")
	assert.Error(t, err)

	_, err = NewSweeper(store, "")
	assert.Error(t, err)

	_, err = NewSweeper(store, "not a schedule")
	assert.Error(t, err)

	sweeper, err := NewSweeper(store, "*/5 * * * *")
	require.NoError(t, err)
	assert.False(t, sweeper.IsRunning())
}

func TestSweeperStartStop(t *testing.T) {
	sweeper, err := NewSweeper(NewStore(), "@every 1m")
	require.NoError(t, err)

	err = sweeper.Start()
	assert.NoError(t, err)
	assert.True(t, sweeper.IsRunning())

	err = sweeper.Start()
	assert.Error(t, err)

	err = sweeper.Stop()
	assert.NoError(t, err)
	assert.False(t, sweeper.IsRunning())

	err = sweeper.Stop()
	assert.Error(t, err)
}

func TestSweeper_EvictsWithoutCreate(t *testing.T) {
	store, clock := setupTestStore(t, WithTimeout(time.Minute))
	id := store.Create()
	clock.Advance(2 * time.Minute)

	sweeper, err := NewSweeper(store, "@every 1s")
	require.NoError(t, err)
	require.NoError(t, sweeper.Start())
	defer sweeper.Stop()

	assert.Eventually(t, func() bool {
		return store.Len() == 0
	}, 3*time.Second, 50*time.Millisecond)

	_, err = store.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
}
