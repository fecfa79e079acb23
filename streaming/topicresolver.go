package streaming

import "strings"

const (
	// TopicStrategyPerTable names topics "<prefix><table>".
	TopicStrategyPerTable = "per_table"

	// TopicStrategySingle routes every event to one topic.
	TopicStrategySingle = "single"

	// TopicStrategyCustom uses an explicit table-to-topic map with a
	// per-table fallback for unmapped tables.
	TopicStrategyCustom = "custom"

	defaultSingleTopic = "events"
)

// TopicResolver maps destination table names onto streaming topic names.
type TopicResolver struct {
	strategy string
	prefix   string
	mapping  map[string]string
	single   string
}

// NewTopicResolver creates a resolver for the given strategy. For the single
// strategy the first mapping value wins, then the trimmed prefix, then a
// default topic name.
func NewTopicResolver(strategy string, prefix string, mapping map[string]string) *TopicResolver {
	resolver := &TopicResolver{
		strategy: strategy,
		prefix:   prefix,
		mapping:  mapping,
	}

	if strategy == TopicStrategySingle {
		resolver.single = singleTopicName(prefix, mapping)
	}

	return resolver
}

// Resolve returns the topic for a table name.
func (r *TopicResolver) Resolve(table string) string {
	switch r.strategy {
	case TopicStrategyCustom:
		if topic, mapped := r.mapping[table]; mapped {
			return topic
		}
		return r.prefix + table

	case TopicStrategySingle:
		return r.single

	default:
		return r.prefix + table
	}
}

func singleTopicName(prefix string, mapping map[string]string) string {
	for _, topic := range mapping {
		return topic
	}

	if trimmed := strings.TrimSuffix(prefix, "."); trimmed != "" {
		return trimmed
	}

	return defaultSingleTopic
}
