package workflow

import "sort"

// Well-known output handles reflected for multi-output nodes.
const (
	HandleOutString  = "out-string"
	HandleOutToolset = "out-toolset"
)

// Well-known value keys written from the trigger context before any node runs.
const (
	WorkflowInputKey          = "workflow-input"
	WorkflowTriggerContextKey = "workflow-trigger-context"
)

// OutputSlot addresses one value in a run's node values: either a node's
// primary output (empty Handle) or one of its named outputs.
type OutputSlot struct {
	NodeID string
	Handle string
}

// BareSlot addresses the primary output of nodeID.
func BareSlot(nodeID string) OutputSlot {
	return OutputSlot{NodeID: nodeID}
}

// HandleSlot addresses the named output handle of nodeID.
func HandleSlot(nodeID, handle string) OutputSlot {
	return OutputSlot{NodeID: nodeID, Handle: handle}
}

// IsBare reports whether the slot is a node's primary output.
func (s OutputSlot) IsBare() bool {
	return s.Handle == ""
}

// String renders the slot for logs and API payloads only. It is never used
// as a lookup key.
func (s OutputSlot) String() string {
	if s.IsBare() {
		return s.NodeID
	}
	return s.NodeID + "::" + s.Handle
}

// NodeValues holds the outputs produced during one run. A slot that is not
// present is undefined. Storing nil makes the slot undefined.
//
// NodeValues is owned by the runner and is not safe for concurrent writes.
type NodeValues struct {
	values map[OutputSlot]any
}

// NewNodeValues returns an empty value store.
func NewNodeValues() *NodeValues {
	return &NodeValues{values: make(map[OutputSlot]any)}
}

// Set stores v in slot. A nil v deletes the slot.
func (nv *NodeValues) Set(slot OutputSlot, v any) {
	if v == nil {
		delete(nv.values, slot)
		return
	}
	nv.values[slot] = v
}

// Get returns the value stored in slot.
func (nv *NodeValues) Get(slot OutputSlot) (any, bool) {
	v, ok := nv.values[slot]
	return v, ok
}

// Delete makes slot undefined.
func (nv *NodeValues) Delete(slot OutputSlot) {
	delete(nv.values, slot)
}

// Len returns the number of defined slots.
func (nv *NodeValues) Len() int {
	return len(nv.values)
}

// Lookup resolves the value a consumer edge sees for (nodeID, handle): the
// handle-scoped slot first, then the node's primary output.
func (nv *NodeValues) Lookup(nodeID, handle string) (any, bool) {
	if handle != "" {
		if v, ok := nv.values[HandleSlot(nodeID, handle)]; ok {
			return v, true
		}
	}
	v, ok := nv.values[BareSlot(nodeID)]
	return v, ok
}

// Snapshot copies the store keyed by the rendered slot names.
func (nv *NodeValues) Snapshot() map[string]any {
	out := make(map[string]any, len(nv.values))
	for slot, v := range nv.values {
		out[slot.String()] = v
	}
	return out
}

// Slots returns the defined slots sorted by node id then handle.
func (nv *NodeValues) Slots() []OutputSlot {
	slots := make([]OutputSlot, 0, len(nv.values))
	for s := range nv.values {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].NodeID != slots[j].NodeID {
			return slots[i].NodeID < slots[j].NodeID
		}
		return slots[i].Handle < slots[j].Handle
	})
	return slots
}
