package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatus_Terminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   TaskStatus
		terminal bool
	}{
		{StatusNew, false},
		{StatusInProgress, false},
		{StatusAwaitingApproval, false},
		{StatusErrorQuarantined, false},
		{StatusCompleted, true},
		{StatusErrorExhausted, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}
}

func TestTaskRecord_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rec     TaskRecord
		wantErr bool
	}{
		{name: "new", rec: TaskRecord{Status: StatusNew}},
		{name: "awaiting with ref", rec: TaskRecord{Status: StatusAwaitingApproval, ApprovalRef: "APPROVAL_x.md"}},
		{name: "awaiting without ref", rec: TaskRecord{Status: StatusAwaitingApproval}, wantErr: true},
		{name: "negative pointer", rec: TaskRecord{Status: StatusInProgress, CurrentStep: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTaskRecord_Clone(t *testing.T) {
	t.Parallel()

	done := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	orig := &TaskRecord{Status: StatusCompleted, CurrentStep: 3, CompletedAt: &done}

	c := orig.Clone()
	require.NotNil(t, c)
	assert.Equal(t, orig, c)

	*c.CompletedAt = done.Add(time.Hour)
	c.CurrentStep = 0
	assert.Equal(t, done, *orig.CompletedAt)
	assert.Equal(t, 3, orig.CurrentStep)

	var nilRec *TaskRecord
	assert.Nil(t, nilRec.Clone())
}

func TestTaskRecord_JSONOmitsEmpty(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(TaskRecord{Status: StatusNew})
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, `"status":"new"`)
	assert.NotContains(t, s, "approval_ref")
	assert.NotContains(t, s, "completed_at")
	assert.NotContains(t, s, "last_error")
}
