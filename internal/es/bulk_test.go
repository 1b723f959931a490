package es

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixing-db/mixing/internal/mixing"
)

func bulkResponse(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &response))
	return response
}

const failedBulkResponse = `{
	"errors": true,
	"items": [
		{"index": {"_index": "customers", "_id": "c1", "status": 200}},
		{"index": {"_index": "customers", "_id": "c2", "status": 409,
			"error": {"type": "version_conflict_engine_exception", "reason": "version conflict",
				"caused_by": {"type": "engine_exception", "reason": "stale primary"}}}},
		{"delete": {"_index": "customers", "_id": "c3", "status": 400,
			"error": {"type": "mapper_parsing_exception", "reason": "failed to parse"}}}
	]
}`

func TestBulkResultSuccess(t *testing.T) {
	result := NewBulkResult(bulkResponse(t, `{"errors":false,"items":[{"index":{"_id":"c1"}}]}`))
	assert.True(t, result.IsSuccessful())
	assert.NoError(t, result.Err())

	failed, err := result.FailedIDs()
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestBulkResultNilResponseIsSuccess(t *testing.T) {
	result := NewBulkResult(nil)
	assert.True(t, result.IsSuccessful())
	assert.NoError(t, result.Err())
}

func TestBulkResultCollectsFailures(t *testing.T) {
	result := NewBulkResult(bulkResponse(t, failedBulkResponse))
	assert.False(t, result.IsSuccessful())

	failed, err := result.FailedIDs()
	require.NoError(t, err)
	assert.Len(t, failed, 2)
	assert.Contains(t, failed, "c2")
	assert.Contains(t, failed, "c3")

	message, err := result.FailureMessage()
	require.NoError(t, err)
	assert.Contains(t, message, "index: customers type: version_conflict_engine_exception reason: version conflict")
	assert.Contains(t, message, "cause: engine_exception stale primary")
	assert.Contains(t, message, "mapper_parsing_exception")
}

func TestBulkResultDigestionIsIdempotent(t *testing.T) {
	result := NewBulkResult(bulkResponse(t, failedBulkResponse))

	firstIDs, err := result.FailedIDs()
	require.NoError(t, err)
	firstMessage, err := result.FailureMessage()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ids, err := result.FailedIDs()
		require.NoError(t, err)
		assert.Equal(t, firstIDs, ids)

		message, err := result.FailureMessage()
		require.NoError(t, err)
		assert.Equal(t, firstMessage, message)
	}
}

func TestBulkResultUnknownWrapper(t *testing.T) {
	result := NewBulkResult(bulkResponse(t,
		`{"errors":true,"items":[{"mystery":{"_id":"c1","error":{"type":"x","reason":"y"}}}]}`))

	_, err := result.FailedIDs()
	require.Error(t, err)

	var protocolErr *mixing.ProtocolError
	require.ErrorAs(t, err, &protocolErr)

	// The digestion error is memoized as well.
	_, err2 := result.FailureMessage()
	assert.Equal(t, err, err2)
}

func TestBulkResultErrDescribesFailures(t *testing.T) {
	result := NewBulkResult(bulkResponse(t, failedBulkResponse))

	err := result.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version conflict")
}
