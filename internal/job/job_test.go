package job

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	j, err := New(" webhook ", map[string]string{"url": "https://example.com"})

	require.NoError(t, err)
	assert.NotEqual(t, [16]byte{}, [16]byte(j.ID))
	assert.Equal(t, TypeWebhook, j.Type)
	assert.JSONEq(t, `{"url":"https://example.com"}`, string(j.Data))
	assert.False(t, j.CreatedAt.IsZero())
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		jobType string
		data    interface{}
	}{
		{name: "empty type", jobType: "  ", data: nil},
		{name: "unencodable data", jobType: TypeLog, data: make(chan int)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.jobType, tt.data)
			assert.ErrorIs(t, err, ErrInvalidJob)
		})
	}
}

func TestJob_Validate(t *testing.T) {
	assert.NoError(t, Job{Type: TypeLog}.Validate())
	assert.NoError(t, Job{Type: TypeLog, Data: json.RawMessage(`{"a":1}`)}.Validate())
	assert.ErrorIs(t, Job{Type: TypeLog, Data: json.RawMessage(`{"a":`)}.Validate(), ErrInvalidJob)
	assert.ErrorIs(t, Job{}.Validate(), ErrInvalidJob)
}

func TestJob_UnmarshalData(t *testing.T) {
	j := Job{Type: TypeLog, Data: json.RawMessage(`{"message":"hi"}`)}

	var data LogData
	require.NoError(t, j.UnmarshalData(&data))
	assert.Equal(t, "hi", data.Message)

	assert.ErrorIs(t, Job{Type: TypeLog}.UnmarshalData(&data), ErrInvalidJob)
	assert.ErrorIs(t, Job{Type: TypeLog, Data: json.RawMessage(`[1]`)}.UnmarshalData(&data), ErrInvalidJob)
}

func TestJob_JSONRoundTrip(t *testing.T) {
	original, err := New(TypeLog, LogData{Message: "persist me"})
	require.NoError(t, err)

	encoded, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Job
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.Type, decoded.Type)
	assert.JSONEq(t, string(original.Data), string(decoded.Data))
	assert.True(t, original.CreatedAt.Equal(decoded.CreatedAt))
}
