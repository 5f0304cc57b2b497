package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityalohuni/snapfile/internal/capture"
)

func TestRegistryTracksProgress(t *testing.T) {
	r := NewRegistry()
	id := r.Start("https://a.test/", "cli")

	r.Progress(id, capture.Event{Type: capture.ResourcesInitialized, SessionID: 7, Max: 3})
	r.Progress(id, capture.Event{Type: capture.ResourceLoaded, SessionID: 7, Index: 2, Max: 3})
	job, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, StateRunning, job.State)
	assert.Equal(t, int64(7), job.SessionID)
	assert.Equal(t, 2, job.Loaded)
	assert.Equal(t, 3, job.Total)
	assert.Equal(t, 1, r.Running())

	r.Finish(id, "archive-1", nil)
	job, _ = r.Get(id)
	assert.Equal(t, StateDone, job.State)
	assert.Equal(t, capture.PageEnded, job.Phase)
	assert.Equal(t, "archive-1", job.ArchiveID)

	r.Progress(id, capture.Event{Type: capture.ResourceLoaded, Index: 9})
	job, _ = r.Get(id)
	assert.Equal(t, 2, job.Loaded)
	assert.Zero(t, r.Running())
}

func TestRegistryPrunesFinishedJobs(t *testing.T) {
	r := NewRegistry()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return now }

	failed := r.Start("https://a.test/", "")
	r.Finish(failed, "", errors.New("boom"))
	running := r.Start("https://b.test/", "")

	now = now.Add(time.Hour)
	assert.Equal(t, 1, r.Prune(time.Minute))
	_, ok := r.Get(failed)
	assert.False(t, ok)
	_, ok = r.Get(running)
	assert.True(t, ok)
	assert.Equal(t, 1, r.Count())
}
