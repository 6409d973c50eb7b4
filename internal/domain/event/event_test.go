package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestType_IsValid(t *testing.T) {
	assert.True(t, TypeRequestResolved.IsValid())
	assert.True(t, TypeTaskAssigned.IsValid())
	assert.False(t, Type("instance.created").IsValid())
	assert.Equal(t, "expense.status_changed", TypeExpenseStatusChanged.String())
}

func TestNewEvent(t *testing.T) {
	e := NewEvent(TypeRequestSubmitted, "req-1", nil)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, "req-1", e.CorrelationID)
	assert.NotNil(t, e.Payload)
	assert.False(t, e.Timestamp.IsZero())

	other := NewEvent(TypeRequestSubmitted, "req-1", nil)
	assert.NotEqual(t, e.ID, other.ID)
}

func TestEvent_WithPayloadDoesNotMutate(t *testing.T) {
	e := NewEvent(TypeRequestResolved, "req-1", map[string]interface{}{KeyToStatus: "APPROVED"})
	e2 := e.WithPayload(KeyExpenseID, "exp-1")

	assert.Equal(t, "", e.GetPayloadString(KeyExpenseID))
	assert.Equal(t, "exp-1", e2.GetPayloadString(KeyExpenseID))
	assert.Equal(t, "APPROVED", e2.GetPayloadString(KeyToStatus))
	assert.Equal(t, e.ID, e2.ID)
}

func TestEvent_PayloadSurvivesJSON(t *testing.T) {
	e := NewEvent(TypeTaskAssigned, "req-1", map[string]interface{}{
		KeyTaskID:   "task-1",
		KeySequence: 2,
	})

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "task-1", decoded.GetPayloadString(KeyTaskID))
	assert.Equal(t, int64(2), decoded.GetPayloadInt(KeySequence))
	assert.Equal(t, TypeTaskAssigned, decoded.Type)
}
