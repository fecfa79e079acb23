package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_ConvertIngestValue(t *testing.T) {
	testCases := []struct {
		name     string
		value    any
		expected any
	}{
		{
			name:     "nil stays nil",
			value:    nil,
			expected: nil,
		},
		{
			name:     "date string becomes epoch days",
			value:    "2024-07-01",
			expected: 19905,
		},
		{
			name:     "midnight time becomes epoch days",
			value:    time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
			expected: 19905,
		},
		{
			name:     "timestamp becomes epoch micros",
			value:    time.Date(2024, 7, 1, 12, 30, 0, 0, time.UTC),
			expected: time.Date(2024, 7, 1, 12, 30, 0, 0, time.UTC).UnixMicro(),
		},
		{
			name:     "iso timestamp string becomes epoch micros",
			value:    "2024-07-01T12:30:00Z",
			expected: time.Date(2024, 7, 1, 12, 30, 0, 0, time.UTC).UnixMicro(),
		},
		{
			name:     "plain string passes through",
			value:    "submitted",
			expected: "submitted",
		},
		{
			name:     "number passes through",
			value:    1250.50,
			expected: 1250.50,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, convertIngestValue(tc.value))
		})
	}
}

func Test_ServerEndpoint_PerCloud(t *testing.T) {
	azure := ZeroBusConfig{
		WorkspaceID:  "123",
		WorkspaceURL: "https://adb-123.11.azuredatabricks.net",
		Region:       "westeurope",
	}
	assert.Equal(t, "123.zerobus.westeurope.azuredatabricks.net", serverEndpoint(azure))

	aws := ZeroBusConfig{
		WorkspaceID:  "456",
		WorkspaceURL: "https://dbc-456.cloud.databricks.com",
		Region:       "us-east-1",
	}
	assert.Equal(t, "456.zerobus.us-east-1.cloud.databricks.com", serverEndpoint(aws))
}
