package outbox

// TopicResolver maps a logical event type to its broker topic.
type TopicResolver interface {
	Resolve(eventType string) (topic string, ok bool)
}

// StaticResolver is a fixed eventType -> topic table.
type StaticResolver map[string]string

// NewStaticResolver copies table so later edits by the caller do not leak in.
func NewStaticResolver(table map[string]string) StaticResolver {
	r := make(StaticResolver, len(table))
	for k, v := range table {
		if k != "" && v != "" {
			r[k] = v
		}
	}
	return r
}

func (r StaticResolver) Resolve(eventType string) (string, bool) {
	t, ok := r[eventType]
	return t, ok
}
