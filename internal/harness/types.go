package harness

import "github.com/roach88/swipematch/internal/engine"

// Trace event types.
const (
	EventVote       = "vote"
	EventSubmit     = "submit"
	EventDispatch   = "dispatch"
	EventStatus     = "status"
	EventSinkOutage = "sink_outage"
	EventRelay      = "relay"
	EventPublish    = "publish"
)

// TraceEvent is one observable effect of a step. Only the fields of its
// Type are meaningful.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`

	Room string `json:"room,omitempty"`
	Item string `json:"item,omitempty"`
	User string `json:"user,omitempty"`
	Vote string `json:"vote,omitempty"`

	Outcome  string `json:"outcome,omitempty"`
	Positive int64  `json:"positive,omitempty"`
	Error    string `json:"error,omitempty"`

	FeedSeq int64               `json:"feed_seq,omitempty"`
	Batch   *engine.BatchResult `json:"batch,omitempty"`

	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Applied bool   `json:"applied,omitempty"`

	Count   int    `json:"count,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}

// canonical renders ev as a map for canonical JSON, keeping only the fields
// its type uses.
func (ev TraceEvent) canonical() map[string]any {
	m := map[string]any{
		"seq":  ev.Seq,
		"type": ev.Type,
	}
	setString := func(key, val string) {
		if val != "" {
			m[key] = val
		}
	}
	setString("room", ev.Room)
	setString("item", ev.Item)
	setString("user", ev.User)
	setString("vote", ev.Vote)
	setString("error", ev.Error)

	switch ev.Type {
	case EventVote:
		setString("outcome", ev.Outcome)
		m["positive"] = ev.Positive
	case EventSubmit:
		if ev.FeedSeq > 0 {
			m["feed_seq"] = ev.FeedSeq
		}
	case EventDispatch:
		if ev.Batch != nil {
			m["received"] = ev.Batch.Received
			m["filtered"] = ev.Batch.Filtered
			m["malformed"] = ev.Batch.Malformed
			m["processed"] = ev.Batch.Processed
			m["failed"] = ev.Batch.Failed
			m["matches"] = ev.Batch.Matches
			m["last_seq"] = ev.Batch.LastSeq
		}
	case EventStatus:
		setString("from", ev.From)
		setString("to", ev.To)
		m["applied"] = ev.Applied
	case EventSinkOutage:
		m["failures"] = ev.Count
	case EventRelay:
		m["published"] = ev.Count
	case EventPublish:
		setString("event", ev.EventID)
	}
	return m
}
