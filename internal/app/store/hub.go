package store

import "sync"

// hub fans committed messages out to in-process subscribers, per group.
// Publish runs callbacks synchronously so that delivery order equals the
// order of Publish calls, which the store implementations serialize per
// group to match commit order.
type hub struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[string]map[int64]func(Message)
}

func newHub() *hub {
	return &hub{
		subs: make(map[string]map[int64]func(Message)),
	}
}

// subscribe registers fn for a group and returns a cancel function.
// Cancel is idempotent and safe to call after the hub has moved on.
func (h *hub) subscribe(groupID string, fn func(Message)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[groupID] == nil {
		h.subs[groupID] = make(map[int64]func(Message))
	}

	id := h.nextID
	h.nextID++
	h.subs[groupID][id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if group, ok := h.subs[groupID]; ok {
			delete(group, id)
			if len(group) == 0 {
				delete(h.subs, groupID)
			}
		}
	}
}

// publish delivers msg to every subscriber of its group.
func (h *hub) publish(msg Message) {
	h.mu.RLock()
	fns := make([]func(Message), 0, len(h.subs[msg.GroupID]))
	for _, fn := range h.subs[msg.GroupID] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(msg)
	}
}
