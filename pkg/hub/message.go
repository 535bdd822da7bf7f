// Package hub fans run events out to websocket subscribers.
package hub

// Message is one encoded JSON event. RunID scopes it to subscribers of that
// run; an empty RunID reaches everyone.
type Message struct {
	RunID string
	Data  []byte
}

// NewMessage wraps pre-encoded JSON for runID.
func NewMessage(runID string, data []byte) Message {
	return Message{RunID: runID, Data: data}
}
