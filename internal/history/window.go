// Package history holds the short conversation window injected ahead of
// each question. The window lives with the caller (an HTTP request body,
// a REPL session); the agent only ever reads a copy of it.
package history

// DefaultCap is the number of question/answer pairs kept in a window.
const DefaultCap = 5

// Entry is one completed exchange.
type Entry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Message is a chat message derived from an entry. Role is "user" or
// "assistant".
type Message struct {
	Role    string
	Content string
}

// Window is a bounded, oldest-first sequence of entries. The zero value
// is an empty window with [DefaultCap]. A Window is not safe for
// concurrent use; each session owns its own.
type Window struct {
	entries []Entry
	limit   int
}

// New returns an empty window holding at most capacity entries. A
// non-positive capacity means [DefaultCap].
func New(capacity int) Window {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return Window{limit: capacity}
}

// FromEntries builds a default-capacity window from caller-supplied
// entries, keeping only the most recent ones.
func FromEntries(entries []Entry) Window {
	w := New(DefaultCap)
	for _, e := range entries {
		w.Append(e)
	}
	return w
}

func (w *Window) capacity() int {
	if w.limit <= 0 {
		return DefaultCap
	}
	return w.limit
}

// Append adds e as the newest entry, evicting the oldest when the window
// is full. Every append builds a fresh slice, so copies of the window
// taken earlier never observe the change.
func (w *Window) Append(e Entry) {
	keep := w.entries
	if n := w.capacity(); len(keep) >= n {
		keep = keep[len(keep)-n+1:]
	}
	next := make([]Entry, 0, len(keep)+1)
	next = append(next, keep...)
	w.entries = append(next, e)
}

// Len returns the number of entries.
func (w Window) Len() int { return len(w.entries) }

// Entries returns a copy of the entries, oldest first.
func (w Window) Entries() []Entry {
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Messages flattens the window into alternating user/assistant messages.
func (w Window) Messages() []Message {
	msgs := make([]Message, 0, 2*len(w.entries))
	for _, e := range w.entries {
		msgs = append(msgs,
			Message{Role: "user", Content: e.Question},
			Message{Role: "assistant", Content: e.Answer},
		)
	}
	return msgs
}
