package utils_test

import (
	"errors"
	"rul-backend/internal/core/utils"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const holdDuration = 200 * time.Millisecond

func holdLock(t *testing.T, m *utils.MutexMap, key string, wg *sync.WaitGroup) {
	defer wg.Done()
	require.NoError(t, m.Lock(key))
	time.Sleep(holdDuration)
	require.NoError(t, m.Unlock(key))
}

func TestMutexMap_SameKeyRunsSequentially(t *testing.T) {
	m := utils.NewMutexMap(10)

	var wg sync.WaitGroup
	wg.Add(2)
	start := time.Now()
	go holdLock(t, m, "canonical.csv", &wg)
	go holdLock(t, m, "canonical.csv", &wg)
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(start), 2*holdDuration)
}

func TestMutexMap_DifferentKeysRunConcurrently(t *testing.T) {
	m := utils.NewMutexMap(10)

	var wg sync.WaitGroup
	wg.Add(2)
	start := time.Now()
	go holdLock(t, m, "a.csv", &wg)
	go holdLock(t, m, "b.csv", &wg)
	wg.Wait()

	assert.Less(t, time.Since(start), 2*holdDuration)
}

func TestMutexMap_ErrorWhenFull(t *testing.T) {
	m := utils.NewMutexMap(1)

	require.NoError(t, m.Lock("a"))
	assert.Error(t, m.Lock("b"))
	require.NoError(t, m.Unlock("a"))

	// the entry is released once unlocked, so a new key fits again
	require.NoError(t, m.Lock("b"))
	require.NoError(t, m.Unlock("b"))
}

func TestMutexMap_UnlockUnknownKey(t *testing.T) {
	m := utils.NewMutexMap(10)
	assert.Error(t, m.Unlock("missing"))
}

func TestMutexMap_WithLockPropagatesError(t *testing.T) {
	m := utils.NewMutexMap(10)
	boom := errors.New("boom")

	err := m.WithLock("key", func() error { return boom })
	assert.ErrorIs(t, err, boom)

	// lock must have been released
	require.NoError(t, m.WithLock("key", func() error { return nil }))
}
