// history/history.go
package history

import (
	"fmt"
	"slices"

	"github.com/sammcj/deskchat/types"
)

// History is the ordered conversation. Order is chronological and is the
// order in which interactions are presented and sent to the model.
//
// History is not safe for concurrent use; see Shared.
type History struct {
	items []types.Interaction
}

// New creates a history holding the given interactions
func New(items ...types.Interaction) *History {
	return &History{items: slices.Clone(items)}
}

// Push appends an interaction
func (h *History) Push(i types.Interaction) {
	h.items = append(h.items, i)
}

// Clear removes every interaction
func (h *History) Clear() {
	h.items = nil
}

// Len returns the number of interactions
func (h *History) Len() int {
	return len(h.items)
}

// Items returns the interactions in order. The slice is a copy; the
// interactions are shared.
func (h *History) Items() []types.Interaction {
	return slices.Clone(h.items)
}

// Clone returns a deep copy
func (h *History) Clone() *History {
	c := &History{items: make([]types.Interaction, len(h.items))}
	for i, it := range h.items {
		c.items[i] = types.CloneInteraction(it)
	}
	return c
}

// Find looks up an interaction by id
func (h *History) Find(id uint64) (types.Interaction, bool) {
	for _, it := range h.items {
		if it.InteractionID() == id {
			return it, true
		}
	}
	return nil, false
}

// Last returns the most recent interaction
func (h *History) Last() (types.Interaction, bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return h.items[len(h.items)-1], true
}

// DeleteByID removes the interaction with the given id together with
// whatever it is paired with: deleting a response deletes the results of all
// its tool calls, deleting a result strips its call from the response that
// made it. Empty responses are pruned afterwards.
func (h *History) DeleteByID(id uint64) bool {
	pos := h.index(id)
	if pos < 0 {
		return false
	}

	switch v := h.items[pos].(type) {
	case *types.LlmResponse:
		for _, tc := range slices.Clone(v.ToolCalls) {
			h.deletePair(pos, tc.ID)
		}
		h.remove(id)
	case *types.ToolResult:
		owner := h.owner(v.ToolCallID, pos)
		h.remove(id)
		if owner >= 0 {
			h.stripCall(owner, v.ToolCallID)
		}
	case *types.UserMessage:
		h.remove(id)
	}

	h.pruneEmpty()
	return true
}

// DeleteByToolID removes the tool call with the given id and its result.
// Providers may reuse ids across turns; the most recent call holding the id
// is the one removed.
func (h *History) DeleteByToolID(toolCallID string) bool {
	owner := h.owner(toolCallID, len(h.items))
	if owner < 0 {
		return false
	}
	h.deletePair(owner, toolCallID)
	h.pruneEmpty()
	return true
}

// CleanUnfinishedToolCalls strips from the most recent response every tool
// call that has no result yet and returns the stripped ids.
func (h *History) CleanUnfinishedToolCalls() []string {
	last := -1
	for i := len(h.items) - 1; i >= 0; i-- {
		if _, ok := h.items[i].(*types.LlmResponse); ok {
			last = i
			break
		}
	}
	if last < 0 {
		return nil
	}
	resp := h.items[last].(*types.LlmResponse)

	answered := make(map[string]struct{})
	for _, it := range h.items[last+1:] {
		if r, ok := it.(*types.ToolResult); ok {
			answered[r.ToolCallID] = struct{}{}
		}
	}

	var keep []types.ToolCall
	var stripped []string
	for _, tc := range resp.ToolCalls {
		if _, done := answered[tc.ID]; done {
			keep = append(keep, tc)
		} else {
			stripped = append(stripped, tc.ID)
		}
	}
	if len(stripped) > 0 {
		resp.ToolCalls = keep
	}

	h.pruneEmpty()
	return stripped
}

// AttachToolResult appends a result for a call made by the response with
// the given id. The result is dropped, and false returned, when that
// response no longer holds the call, when a later response has reused the
// call id, or when the call already has a result.
func (h *History) AttachToolResult(responseID uint64, result *types.ToolResult) bool {
	owner := h.owner(result.ToolCallID, len(h.items))
	if owner < 0 || h.items[owner].InteractionID() != responseID {
		return false
	}
	if h.resultOf(owner, result.ToolCallID) >= 0 {
		return false
	}
	h.Push(result)
	return true
}

// SortToolResults reorders the results answering the given response so they
// follow the order in which the response declared its calls. Results keep
// the positions they occupy, only their order among those positions changes.
func (h *History) SortToolResults(responseID uint64) {
	start := h.index(responseID)
	if start < 0 {
		return
	}
	resp, ok := h.items[start].(*types.LlmResponse)
	if !ok || len(resp.ToolCalls) < 2 {
		return
	}

	// results are collected in declaration order
	var positions []int
	var results []*types.ToolResult
	for _, tc := range resp.ToolCalls {
		if pos := h.resultOf(start, tc.ID); pos >= 0 {
			positions = append(positions, pos)
			results = append(results, h.items[pos].(*types.ToolResult))
		}
	}
	slices.Sort(positions)

	for i, pos := range positions {
		h.items[pos] = results[i]
	}
}

// Validate checks the pairing invariants: every result answers a call of
// the closest earlier response holding that id, at most once, and every call
// is answered before the id is reused. With inFlight set, calls of the most
// recent response may still be waiting for their results.
func (h *History) Validate(inFlight bool) error {
	type call struct {
		response uint64
		answered bool
	}
	open := make(map[string]call)
	var last *types.LlmResponse
	for _, it := range h.items {
		switch v := it.(type) {
		case *types.LlmResponse:
			if v.IsEmpty() {
				return fmt.Errorf("interaction %d: empty response", v.ID)
			}
			for _, tc := range v.ToolCalls {
				if prev, ok := open[tc.ID]; ok && !prev.answered {
					return fmt.Errorf("tool call %q of interaction %d has no result", tc.ID, prev.response)
				}
				open[tc.ID] = call{response: v.ID}
			}
			last = v
		case *types.ToolResult:
			c, ok := open[v.ToolCallID]
			if !ok {
				return fmt.Errorf("interaction %d: result for unknown tool call %q", v.ID, v.ToolCallID)
			}
			if c.answered {
				return fmt.Errorf("interaction %d: duplicate result for tool call %q", v.ID, v.ToolCallID)
			}
			c.answered = true
			open[v.ToolCallID] = c
		}
	}

	for id, c := range open {
		if c.answered {
			continue
		}
		if inFlight && last != nil && c.response == last.ID {
			continue
		}
		return fmt.Errorf("tool call %q has no result", id)
	}
	return nil
}

func (h *History) index(id uint64) int {
	return slices.IndexFunc(h.items, func(it types.Interaction) bool {
		return it.InteractionID() == id
	})
}

// owner returns the position of the latest response before pos holding the
// call, or -1
func (h *History) owner(toolCallID string, pos int) int {
	for i := pos - 1; i >= 0; i-- {
		if r, ok := h.items[i].(*types.LlmResponse); ok && r.HasToolCall(toolCallID) {
			return i
		}
	}
	return -1
}

// resultOf returns the position of the result answering the call made by
// the response at owner, or -1. A later response reusing the id ends the
// search.
func (h *History) resultOf(owner int, toolCallID string) int {
	for i := owner + 1; i < len(h.items); i++ {
		switch v := h.items[i].(type) {
		case *types.ToolResult:
			if v.ToolCallID == toolCallID {
				return i
			}
		case *types.LlmResponse:
			if v.HasToolCall(toolCallID) {
				return -1
			}
		}
	}
	return -1
}

// deletePair removes the call made by the response at owner and its result
func (h *History) deletePair(owner int, toolCallID string) {
	if pos := h.resultOf(owner, toolCallID); pos >= 0 {
		h.items = slices.Delete(h.items, pos, pos+1)
	}
	h.stripCall(owner, toolCallID)
}

func (h *History) stripCall(owner int, toolCallID string) {
	resp := h.items[owner].(*types.LlmResponse)
	resp.ToolCalls = slices.DeleteFunc(slices.Clone(resp.ToolCalls), func(tc types.ToolCall) bool {
		return tc.ID == toolCallID
	})
}

func (h *History) remove(id uint64) {
	h.items = slices.DeleteFunc(h.items, func(it types.Interaction) bool {
		return it.InteractionID() == id
	})
}

func (h *History) pruneEmpty() {
	h.items = slices.DeleteFunc(h.items, func(it types.Interaction) bool {
		r, ok := it.(*types.LlmResponse)
		return ok && r.IsEmpty()
	})
}
