package streaming_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brickwellhealth/simulator/streaming"
)

func Test_TopicResolver_PerTable(t *testing.T) {
	resolver := streaming.NewTopicResolver(streaming.TopicStrategyPerTable, "sim.", nil)

	assert.Equal(t, "sim.claim", resolver.Resolve("claim"))
	assert.Equal(t, "sim.member", resolver.Resolve("member"))
}

func Test_TopicResolver_Single(t *testing.T) {
	testCases := []struct {
		name     string
		prefix   string
		mapping  map[string]string
		expected string
	}{
		{
			name:     "mapping value wins",
			prefix:   "sim.",
			mapping:  map[string]string{"claim": "all-events"},
			expected: "all-events",
		},
		{
			name:     "trimmed prefix as topic",
			prefix:   "sim.",
			expected: "sim",
		},
		{
			name:     "default topic",
			expected: "events",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resolver := streaming.NewTopicResolver(streaming.TopicStrategySingle, tc.prefix, tc.mapping)

			assert.Equal(t, tc.expected, resolver.Resolve("claim"))
			assert.Equal(t, tc.expected, resolver.Resolve("member"), "every table resolves to the same topic")
		})
	}
}

func Test_TopicResolver_Custom(t *testing.T) {
	resolver := streaming.NewTopicResolver(
		streaming.TopicStrategyCustom,
		"sim.",
		map[string]string{"claim": "claims-stream"},
	)

	assert.Equal(t, "claims-stream", resolver.Resolve("claim"))
	assert.Equal(t, "sim.member", resolver.Resolve("member"), "unmapped tables fall back to per-table naming")
}

func Test_NewResolver_DerivesIngestPrefixFromCatalogAndSchema(t *testing.T) {
	cfg := streaming.Config{
		Backend:       streaming.BackendZeroBus,
		TopicStrategy: streaming.TopicStrategyPerTable,
		ZeroBus: streaming.ZeroBusConfig{
			Catalog:    "main",
			SchemaName: "brickwell",
		},
	}

	resolver := streaming.NewResolver(cfg)

	assert.Equal(t, "main.brickwell.claim", resolver.Resolve("claim"))
}
