package chat

import (
	"sort"
	"time"

	"pickup-chat/internal/models"
)

// DefaultMatchWindow bounds how far apart a local optimistic send and its
// server echo may be timestamped and still be treated as the same message.
const DefaultMatchWindow = 10 * time.Second

type entry struct {
	msg models.Message
	// pinned entries (client-synthesized presence) keep the position
	// they were appended at and are skipped when ordering text messages
	// by timestamp.
	pinned bool
}

// reconciler folds the three message sources (history load, optimistic
// local sends, live broadcasts) into one timestamp-ordered, duplicate-free
// view. Ties sort by arrival order. Not safe for concurrent use; the
// session run loop is its only caller.
type reconciler struct {
	entries []entry
	seen    map[string]struct{}
	pending []models.Message
	window  time.Duration
}

func newReconciler(window time.Duration) *reconciler {
	if window <= 0 {
		window = DefaultMatchWindow
	}
	return &reconciler{
		seen:   make(map[string]struct{}),
		window: window,
	}
}

// seed installs the REST-loaded history underneath whatever live entries
// arrived first. History wins ties against same-timestamp live entries
// because it was created earlier even though it loaded later.
func (r *reconciler) seed(history []models.Message) {
	merged := make([]entry, 0, len(history)+len(r.entries))
	for _, m := range history {
		if m.ID != "" {
			if _, dup := r.seen[m.ID]; dup {
				continue
			}
			r.seen[m.ID] = struct{}{}
		}
		merged = append(merged, entry{msg: m})
	}
	merged = append(merged, r.entries...)

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].msg.Timestamp.Before(merged[j].msg.Timestamp)
	})
	r.entries = merged
}

// addLocal appends an optimistic entry for a message this client just
// sent and remembers it for echo matching.
func (r *reconciler) addLocal(m models.Message) {
	r.insert(m)
	r.pending = append(r.pending, m)
}

// applyBroadcast folds in a live server message. A broadcast matching a
// pending optimistic entry (same sender, same body, timestamps within the
// match window) replaces that entry in place and canonicalizes its ID;
// a broadcast whose canonical ID was already applied is dropped.
// Reports whether the view changed.
func (r *reconciler) applyBroadcast(m models.Message) bool {
	if m.ID != "" {
		if _, dup := r.seen[m.ID]; dup {
			return false
		}
	}

	if i := r.matchPending(m); i >= 0 {
		local := r.pending[i]
		r.pending = append(r.pending[:i], r.pending[i+1:]...)
		if m.ID != "" {
			r.seen[m.ID] = struct{}{}
		}
		for j := range r.entries {
			if r.entries[j].msg.ID == local.ID {
				r.entries[j].msg = m
				return true
			}
		}
		// Optimistic entry already gone; fall through to a plain insert.
	}

	if m.ID != "" {
		r.seen[m.ID] = struct{}{}
	}
	r.insert(m)
	return true
}

// appendSystem places a client-synthesized presence message at the tail
// of the view regardless of its timestamp. Presence entries are never
// deduplicated against history and never move once placed.
func (r *reconciler) appendSystem(m models.Message) {
	r.entries = append(r.entries, entry{msg: m, pinned: true})
}

func (r *reconciler) matchPending(m models.Message) int {
	for i, local := range r.pending {
		if local.UserID != m.UserID || local.Body != m.Body {
			continue
		}
		d := m.Timestamp.Sub(local.Timestamp)
		if d < 0 {
			d = -d
		}
		if d <= r.window {
			return i
		}
	}
	return -1
}

// insert keeps the text entries ordered by timestamp ascending; an entry
// with a timestamp equal to existing ones lands after them. Pinned
// presence entries do not take part in the ordering, so the scan ignores
// them and a late text message still lands before any text entry that is
// timestamped after it.
func (r *reconciler) insert(m models.Message) {
	e := entry{msg: m}

	idx := len(r.entries)
	for i := range r.entries {
		if !r.entries[i].pinned && r.entries[i].msg.Timestamp.After(m.Timestamp) {
			idx = i
			break
		}
	}
	if idx == len(r.entries) {
		r.entries = append(r.entries, e)
		return
	}
	r.entries = append(r.entries, entry{})
	copy(r.entries[idx+1:], r.entries[idx:])
	r.entries[idx] = e
}

func (r *reconciler) snapshot() []models.Message {
	out := make([]models.Message, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.msg
	}
	return out
}
