package inbox

import "fmt"

// Router maps event types to handlers.
type Router struct {
	handlers map[string]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register panics on a duplicate event type; routes are wired at startup.
func (r *Router) Register(eventType string, h Handler) *Router {
	if _, dup := r.handlers[eventType]; dup {
		panic(fmt.Sprintf("inbox: handler for %q already registered", eventType))
	}
	r.handlers[eventType] = h
	return r
}

func (r *Router) Lookup(eventType string) (Handler, bool) {
	h, ok := r.handlers[eventType]
	return h, ok
}

func (r *Router) EventTypes() []string {
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}
