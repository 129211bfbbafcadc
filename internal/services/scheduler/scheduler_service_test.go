package scheduler

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/models"
)

type fakeQueue struct {
	resumes atomic.Int32
}

func (q *fakeQueue) AddPrompts(prompts []string) []models.GenerationItem { return nil }
func (q *fakeQueue) Start()                                             {}
func (q *fakeQueue) Pause()                                             {}
func (q *fakeQueue) Resume()                                            { q.resumes.Add(1) }
func (q *fakeQueue) ClearCompleted()                                    {}
func (q *fakeQueue) ClearAll()                                          {}
func (q *fakeQueue) RetryFailed()                                       {}
func (q *fakeQueue) RetryItem(id string) bool                           { return false }
func (q *fakeQueue) GetStatus() models.QueueStatus                      { return models.QueueStatus{Queued: 2} }
func (q *fakeQueue) GetItem(id string) (models.GenerationItem, bool) {
	return models.GenerationItem{}, false
}

func TestService_TriggerResumesQueue(t *testing.T) {
	queue := &fakeQueue{}
	svc := NewService(queue, nil, arbor.NewNoOpLogger())

	svc.Trigger()

	assert.Equal(t, int32(1), queue.resumes.Load())
	assert.NotNil(t, svc.LastRun())
}

func TestService_TriggerRespectsReadyGate(t *testing.T) {
	queue := &fakeQueue{}
	ready := false
	svc := NewService(queue, func() bool { return ready }, arbor.NewNoOpLogger())

	svc.Trigger()
	assert.Equal(t, int32(0), queue.resumes.Load())
	assert.Equal(t, 1, svc.Skipped())
	assert.Nil(t, svc.LastRun())

	ready = true
	svc.Trigger()
	assert.Equal(t, int32(1), queue.resumes.Load())
}

func TestService_StartStop(t *testing.T) {
	svc := NewService(&fakeQueue{}, nil, arbor.NewNoOpLogger())

	require.NoError(t, svc.Start("0 6 * * *"))
	next := svc.NextRun()
	require.NotNil(t, next)
	assert.Equal(t, 6, next.Hour())
	assert.Error(t, svc.Start("0 6 * * *"), "second start is rejected")

	require.NoError(t, svc.Stop())
	assert.Nil(t, svc.NextRun())
	require.NoError(t, svc.Stop())
}

func TestService_EmptyScheduleIsNoOp(t *testing.T) {
	svc := NewService(&fakeQueue{}, nil, arbor.NewNoOpLogger())
	require.NoError(t, svc.Start(""))
	assert.Nil(t, svc.NextRun())
}

func TestService_InvalidSchedule(t *testing.T) {
	svc := NewService(&fakeQueue{}, nil, arbor.NewNoOpLogger())
	assert.Error(t, svc.Start("every day"))
	assert.Error(t, svc.Start("* * * * * *"), "seconds field is not accepted")
}
