/*
Package client implements the client side of the group messaging engine.

This file defines the Reconciler, which merges two independent arrival
streams per group, the durable log subscription and the real-time channel,
into one de-duplicated, time-ordered timeline, plus an ephemeral set of
active typists with TTL expiry.

The merge is keyed by message id: an id seen twice is applied once, with the
durable log's copy winning on any disagreement. Optimistic local entries are
keyed by their dedup key until the authoritative echo arrives, at which point
they are replaced, never duplicated.
*/
package client

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"collabchat/internal/app/chat"
	"collabchat/internal/app/member"
	"collabchat/internal/app/store"
	"collabchat/internal/pkg/logx"
)

// GroupPhase is the Reconciler's per-group state.
type GroupPhase int

const (
	// PhaseIdle means the group is not active; events for it are dropped.
	PhaseIdle GroupPhase = iota

	// PhaseLoading means the group was joined but the first durable snapshot
	// has not arrived yet.
	PhaseLoading

	// PhaseLive means the durable snapshot landed and both streams merge.
	PhaseLive
)

// DefaultTypingTTL is how long a typing entry stays active without a refresh.
// It covers clients that drop without sending a "stopped typing" event.
const DefaultTypingTTL = 4 * time.Second

// TimelineEntry is one row of a group's rendered timeline.
type TimelineEntry struct {
	Message store.Message

	// Optimistic marks a locally echoed message whose authoritative id and
	// timestamp have not arrived yet.
	Optimistic bool

	// Failed marks a message whose durable append failed; the caller can
	// retry it with the dedup key unchanged.
	Failed bool

	// System marks a locally rendered notice (joins); it has no persisted id
	// and never deduplicates against a real message.
	System bool
}

// TypingState is one member's ephemeral typing indicator.
type TypingState struct {
	UserID        string
	DisplayName   string
	LastUpdatedAt time.Time
}

// groupView is the Reconciler's state for one active group.
type groupView struct {
	phase GroupPhase

	// entries keys persisted messages by id, optimistic ones by their dedup
	// key, and system notices by a local sequence. Rebuilt into a sorted
	// timeline on each read.
	entries map[string]TimelineEntry

	// byDedup maps a dedup key to the entry currently holding it, so the
	// authoritative echo can replace the optimistic entry in place.
	byDedup map[string]string

	typing map[string]TypingState

	// stale is set while the durable subscription is degraded; the timeline
	// keeps its last known-good content.
	stale bool

	sysSeq int
}

// ReconcilerConfig tunes a Reconciler.
type ReconcilerConfig struct {
	// TypingTTL overrides DefaultTypingTTL.
	TypingTTL time.Duration

	// Now overrides the clock; tests inject a fake.
	Now func() time.Time

	// OnChange, if set, fires after any event mutates a group's view.
	OnChange func(groupID string)

	// OnWarning, if set, receives StaleDataWarning conditions.
	OnWarning func(*StaleDataWarning)
}

// Reconciler merges the durable and real-time streams into per-group
// timelines. Safe for concurrent use: both streams and UI reads may arrive
// on different goroutines.
type Reconciler struct {
	mu     sync.Mutex
	groups map[string]*groupView

	typingTTL time.Duration
	now       func() time.Time

	onChange  func(string)
	onWarning func(*StaleDataWarning)

	sweepDone chan struct{}
	sweepOnce sync.Once

	logger zerolog.Logger
}

// NewReconciler creates a Reconciler and starts its typing-expiry sweeper.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = DefaultTypingTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := &Reconciler{
		groups:    make(map[string]*groupView),
		typingTTL: cfg.TypingTTL,
		now:       cfg.Now,
		onChange:  cfg.OnChange,
		onWarning: cfg.OnWarning,
		sweepDone: make(chan struct{}),
		logger:    logx.Logger().With().Str("component", "Reconciler").Logger(),
	}

	go r.sweepTyping()

	return r
}

// Close stops the typing sweeper. Group state is dropped.
func (r *Reconciler) Close() {
	r.sweepOnce.Do(func() {
		close(r.sweepDone)
	})

	r.mu.Lock()
	r.groups = make(map[string]*groupView)
	r.mu.Unlock()
}

// BindSession wires the Reconciler into a Session's inbound streams.
func (r *Reconciler) BindSession(s *Session) {
	s.On(chat.TypeMessage, r.HandleFrame)
	s.On(chat.TypeUserJoined, r.HandleFrame)
	s.On(chat.TypeTyping, r.HandleFrame)
	s.On(chat.TypeConfirm, r.HandleFrame)
	s.On(chat.TypeError, r.HandleFrame)
}

// JoinGroup activates a group view in Loading phase. Idempotent.
func (r *Reconciler) JoinGroup(groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[groupID]; ok {
		return
	}

	r.groups[groupID] = &groupView{
		phase:   PhaseLoading,
		entries: make(map[string]TimelineEntry),
		byDedup: make(map[string]string),
		typing:  make(map[string]TypingState),
	}
}

// LeaveGroup deactivates a group. Any event for it that is still in flight
// will find no view and be dropped, which is exactly what prevents
// use-after-leave updates.
func (r *Reconciler) LeaveGroup(groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, groupID)
}

// Phase reports the group's current phase; PhaseIdle for inactive groups.
func (r *Reconciler) Phase(groupID string) GroupPhase {
	r.mu.Lock()
	defer r.mu.Unlock()

	view, ok := r.groups[groupID]
	if !ok {
		return PhaseIdle
	}
	return view.phase
}

// IsStale reports whether the group's durable subscription is degraded.
func (r *Reconciler) IsStale(groupID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	view, ok := r.groups[groupID]
	return ok && view.stale
}

// ApplyDurableSnapshot installs the initial ordered history for a group and
// moves it to Live. Dropped if the group is no longer active.
func (r *Reconciler) ApplyDurableSnapshot(groupID string, messages []store.Message) {
	r.mu.Lock()
	view, ok := r.groups[groupID]
	if !ok {
		r.mu.Unlock()
		return
	}

	for _, msg := range messages {
		view.upsert(msg)
	}
	view.phase = PhaseLive
	view.stale = false
	r.mu.Unlock()

	r.notifyChange(groupID)
}

// ApplyDurable merges one committed message from the durable subscription.
// Arrival on the feed is proof the subscription is healthy again, so the
// degraded marker is cleared.
func (r *Reconciler) ApplyDurable(groupID string, msg store.Message) {
	r.apply(groupID, msg, true)
}

// applyLive merges a message delivered over the real-time channel. The live
// channel says nothing about the durable feed's health, so the degraded
// marker is left untouched.
func (r *Reconciler) applyLive(groupID string, msg store.Message) {
	r.apply(groupID, msg, false)
}

func (r *Reconciler) apply(groupID string, msg store.Message, fromDurable bool) {
	r.mu.Lock()
	view, ok := r.groups[groupID]
	if !ok {
		r.mu.Unlock()
		return
	}

	view.upsert(msg)
	if fromDurable {
		view.stale = false
	}
	r.mu.Unlock()

	r.notifyChange(groupID)
}

// ApplyDurableError marks the group's durable subscription as degraded. The
// last known-good timeline stays on screen; nothing is cleared.
func (r *Reconciler) ApplyDurableError(groupID string, err error) {
	r.mu.Lock()
	view, ok := r.groups[groupID]
	if ok {
		view.stale = true
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	warning := &StaleDataWarning{GroupID: groupID, Err: err}
	r.logger.Warn().Err(err).Str("group_id", groupID).Msg("Durable subscription degraded.")

	if r.onWarning != nil {
		r.onWarning(warning)
	}
	r.notifyChange(groupID)
}

// AddOptimistic inserts a locally echoed message before any acknowledgment.
// It renders immediately at the local clock position and is replaced, not
// duplicated, once the authoritative echo arrives under the same dedup key.
func (r *Reconciler) AddOptimistic(groupID string, draft store.Draft) {
	r.mu.Lock()
	view, ok := r.groups[groupID]
	if !ok {
		r.mu.Unlock()
		return
	}

	key := "opt:" + draft.DedupKey
	view.entries[key] = TimelineEntry{
		Message: store.Message{
			GroupID:           groupID,
			AuthorID:          draft.AuthorID,
			AuthorDisplayName: draft.AuthorDisplayName,
			Body:              draft.Body,
			DedupKey:          draft.DedupKey,
			CreatedAt:         r.now(),
		},
		Optimistic: true,
	}
	view.byDedup[draft.DedupKey] = key
	r.mu.Unlock()

	r.notifyChange(groupID)
}

// HandleFrame routes a real-time channel frame into the merge. Frames for
// inactive groups are dropped.
func (r *Reconciler) HandleFrame(frame chat.Frame) {
	switch frame.Type {
	case chat.TypeMessage:
		var msg store.Message
		if err := frame.DecodePayload(&msg); err != nil {
			r.logger.Warn().Err(err).Msg("Invalid MESSAGE payload.")
			return
		}
		r.applyLive(frame.GroupID, msg)

	case chat.TypeConfirm:
		var ack chat.ConfirmPayload
		if err := frame.DecodePayload(&ack); err != nil {
			r.logger.Warn().Err(err).Msg("Invalid CONFIRM payload.")
			return
		}
		r.applyConfirm(frame.GroupID, ack)

	case chat.TypeUserJoined:
		var joined chat.UserJoinedPayload
		if err := frame.DecodePayload(&joined); err != nil {
			r.logger.Warn().Err(err).Msg("Invalid USER_JOINED payload.")
			return
		}
		r.applyUserJoined(frame.GroupID, joined)

	case chat.TypeTyping:
		var typing chat.TypingPayload
		if err := frame.DecodePayload(&typing); err != nil {
			r.logger.Warn().Err(err).Msg("Invalid TYPING payload.")
			return
		}
		r.applyTyping(frame.GroupID, frame.Sender, typing.IsTyping)

	case chat.TypeError:
		var failure chat.ErrorPayload
		if err := frame.DecodePayload(&failure); err != nil {
			r.logger.Warn().Err(err).Msg("Invalid ERROR payload.")
			return
		}
		if failure.DedupKey != "" {
			r.markFailed(frame.GroupID, failure.DedupKey)
		}
	}
}

// applyConfirm upgrades the optimistic entry for a dedup key with its
// authoritative id and timestamp.
func (r *Reconciler) applyConfirm(groupID string, ack chat.ConfirmPayload) {
	r.mu.Lock()
	view, ok := r.groups[groupID]
	if !ok {
		r.mu.Unlock()
		return
	}

	if key, found := view.byDedup[ack.DedupKey]; found {
		if entry, exists := view.entries[key]; exists && key != ack.MessageID {
			delete(view.entries, key)

			entry.Message.ID = ack.MessageID
			entry.Message.CreatedAt = ack.CreatedAt
			entry.Optimistic = false
			entry.Failed = false

			view.entries[ack.MessageID] = entry
			view.byDedup[ack.DedupKey] = ack.MessageID
		}
	}
	r.mu.Unlock()

	r.notifyChange(groupID)
}

// applyUserJoined appends a locally rendered system notice. It has no
// persisted id and bypasses the durable dedup path entirely.
func (r *Reconciler) applyUserJoined(groupID string, joined chat.UserJoinedPayload) {
	r.mu.Lock()
	view, ok := r.groups[groupID]
	if !ok {
		r.mu.Unlock()
		return
	}

	verb := "joined"
	if joined.Rejoined {
		verb = "rejoined"
	}

	view.sysSeq++
	key := fmt.Sprintf("sys:%06d", view.sysSeq)

	view.entries[key] = TimelineEntry{
		Message: store.Message{
			ID:                key,
			GroupID:           groupID,
			AuthorID:          member.SystemUserID,
			AuthorDisplayName: member.System.DisplayName,
			Body:              fmt.Sprintf("%s %s the group", joined.Member.DisplayName, verb),
			CreatedAt:         r.now(),
		},
		System: true,
	}
	r.mu.Unlock()

	r.notifyChange(groupID)
}

// applyTyping refreshes or clears a member's typing indicator.
func (r *Reconciler) applyTyping(groupID string, sender member.Member, isTyping bool) {
	r.mu.Lock()
	view, ok := r.groups[groupID]
	if !ok {
		r.mu.Unlock()
		return
	}

	if isTyping {
		view.typing[sender.UserID] = TypingState{
			UserID:        sender.UserID,
			DisplayName:   sender.DisplayName,
			LastUpdatedAt: r.now(),
		}
	} else {
		delete(view.typing, sender.UserID)
	}
	r.mu.Unlock()

	r.notifyChange(groupID)
}

// markFailed flags the entry owning a dedup key as failed-to-send.
func (r *Reconciler) markFailed(groupID, dedupKey string) {
	r.mu.Lock()
	view, ok := r.groups[groupID]
	if ok {
		if key, found := view.byDedup[dedupKey]; found {
			if entry, exists := view.entries[key]; exists {
				entry.Failed = true
				view.entries[key] = entry
			}
		}
	}
	r.mu.Unlock()

	if ok {
		r.notifyChange(groupID)
	}
}

// ResendFailed re-submits a failed message over the session with its dedup
// key unchanged, clearing the failure flag. Returns false if no failed entry
// owns the key.
func (r *Reconciler) ResendFailed(s *Session, groupID, dedupKey string) bool {
	r.mu.Lock()
	view, ok := r.groups[groupID]
	if !ok {
		r.mu.Unlock()
		return false
	}

	key, found := view.byDedup[dedupKey]
	if !found {
		r.mu.Unlock()
		return false
	}

	entry, exists := view.entries[key]
	if !exists || !entry.Failed {
		r.mu.Unlock()
		return false
	}

	entry.Failed = false
	view.entries[key] = entry
	body := entry.Message.Body
	r.mu.Unlock()

	if err := s.SendMessage(groupID, body, dedupKey); err != nil {
		return false
	}

	r.notifyChange(groupID)
	return true
}

// Timeline returns the group's merged timeline, ordered by CreatedAt with
// ties broken by id. The result is a copy; callers may keep it.
func (r *Reconciler) Timeline(groupID string) []TimelineEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	view, ok := r.groups[groupID]
	if !ok {
		return nil
	}

	out := make([]TimelineEntry, 0, len(view.entries))
	for _, entry := range view.entries {
		out = append(out, entry)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return store.Less(out[i].Message, out[j].Message)
	})

	return out
}

// ActiveTypists returns the members currently typing in a group. Entries
// older than the TTL are filtered here as well as by the sweeper, so a
// silent disconnect never leaves an indicator stuck.
func (r *Reconciler) ActiveTypists(groupID string) []TypingState {
	r.mu.Lock()
	defer r.mu.Unlock()

	view, ok := r.groups[groupID]
	if !ok {
		return nil
	}

	cutoff := r.now().Add(-r.typingTTL)

	out := make([]TypingState, 0, len(view.typing))
	for _, t := range view.typing {
		if t.LastUpdatedAt.After(cutoff) {
			out = append(out, t)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UserID < out[j].UserID
	})

	return out
}

// sweepTyping periodically drops expired typing entries, independent of any
// network event.
func (r *Reconciler) sweepTyping() {
	interval := r.typingTTL / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.sweepDone:
			return

		case <-ticker.C:
			var changed []string

			r.mu.Lock()
			cutoff := r.now().Add(-r.typingTTL)
			for groupID, view := range r.groups {
				for userID, t := range view.typing {
					if !t.LastUpdatedAt.After(cutoff) {
						delete(view.typing, userID)
						changed = append(changed, groupID)
					}
				}
			}
			r.mu.Unlock()

			for _, groupID := range changed {
				r.notifyChange(groupID)
			}
		}
	}
}

func (r *Reconciler) notifyChange(groupID string) {
	if r.onChange != nil {
		r.onChange(groupID)
	}
}

// upsert merges one authoritative message into the view. An id already
// present is overwritten (durable wins on any disagreement); a dedup key
// already owned by an optimistic entry replaces that entry in place.
func (v *groupView) upsert(msg store.Message) {
	if msg.DedupKey != "" {
		if key, ok := v.byDedup[msg.DedupKey]; ok && key != msg.ID {
			delete(v.entries, key)
		}
		v.byDedup[msg.DedupKey] = msg.ID
	}

	v.entries[msg.ID] = TimelineEntry{Message: msg}
}
