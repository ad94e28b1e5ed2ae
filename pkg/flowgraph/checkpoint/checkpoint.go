package checkpoint

import (
	"encoding/json"
	"time"
)

// Version is the checkpoint format version. Bump it on breaking changes.
const Version = 1

// Checkpoint is the state of a run right after one node finished.
type Checkpoint struct {
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	NodeID    string    `json:"node_id"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	// State is the JSON-encoded graph state.
	State json.RawMessage `json:"state"`
	// NextNode is where the run continues when resumed.
	NextNode   string `json:"next_node"`
	PrevNodeID string `json:"prev_node_id,omitempty"`
}

// New builds a checkpoint. state must already be JSON.
func New(runID, nodeID string, sequence int, state []byte, nextNode string) *Checkpoint {
	return &Checkpoint{
		Version:   Version,
		RunID:     runID,
		NodeID:    nodeID,
		Sequence:  sequence,
		Timestamp: time.Now().UTC(),
		State:     state,
		NextNode:  nextNode,
	}
}

// WithPrevNode records the node that ran before this one.
func (c *Checkpoint) WithPrevNode(prevNodeID string) *Checkpoint {
	c.PrevNodeID = prevNodeID
	return c
}

// Marshal encodes the checkpoint as JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal decodes a checkpoint produced by Marshal.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
