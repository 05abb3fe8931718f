package types

// Event represents a typed event emitted by a vault operation.
type Event struct {
	Type       string            `json:"type"`
	OpID       string            `json:"opId,omitempty"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the attribute stored under key.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
