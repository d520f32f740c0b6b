// Package extractor turns a streamed model response into translation records.
//
// The model is instructed to answer with the following grammar:
//
//	<translations>
//	  <item>
//	    <key>KEY</key>
//	    <value><![CDATA[LITERAL TEXT]]></value>
//	    <comment>optional note</comment>
//	  </item>
//	</translations>
//
// An Extractor is fed text deltas in arrival order and reports a Started event
// once a record's key is known and a Completed event once the record is closed.
// Fragments may split any marker across Feed calls. An Extractor belongs to a
// single attempt and must not be fed from more than one goroutine.
package extractor

import (
	"html"
	"strings"

	"locale-translator/internal/types"
)

const (
	containerOpen  = "<translations>"
	containerClose = "</translations>"
	recordOpen     = "<item>"
	recordClose    = "</item>"
	keyOpen        = "<key>"
	keyClose       = "</key>"
	valueOpen      = "<value>"
	valueClose     = "</value>"
	commentOpen    = "<comment>"
	commentClose   = "</comment>"
	envelopeOpen   = "<![CDATA["
	envelopeClose  = "]]>"
)

// EventKind identifies a record lifecycle event.
type EventKind int

const (
	// EventStarted fires once a record's key is closed but its value is not.
	EventStarted EventKind = iota + 1
	// EventCompleted fires once a record is fully parsed.
	EventCompleted
)

// String returns the string representation of the event kind
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Event is a record lifecycle notification produced by Feed or Finish.
type Event struct {
	Kind EventKind
	Key  string
	// Record is set for EventCompleted only.
	Record types.TranslationRecord
}

// Extractor is the attempt-scoped parser state.
type Extractor struct {
	// pending holds the unconsumed suffix of the stream; consumed records are cut from the front.
	pending    string
	transcript strings.Builder

	completed map[string]struct{}
	started   map[string]struct{}
	records   []types.TranslationRecord

	finished bool
	strategy Strategy
}

// New creates an empty Extractor.
func New() *Extractor {
	return &Extractor{
		completed: make(map[string]struct{}),
		started:   make(map[string]struct{}),
	}
}

// Feed appends chunk to the stream and returns the events it produced.
func (e *Extractor) Feed(chunk string) []Event {
	if chunk == "" || e.finished {
		return nil
	}
	e.transcript.WriteString(chunk)
	e.pending += chunk

	var events []Event
	for {
		start := strings.Index(e.pending, recordOpen)
		if start < 0 {
			// keep just enough to complete a split record marker
			e.pending = keepTail(e.pending, len(recordOpen)-1)
			break
		}
		e.pending = e.pending[start:]

		res := scanRecord(e.pending)
		if res.status == scanIncomplete || res.end < 0 {
			if ev, ok := e.announce(res); ok {
				events = append(events, ev)
			}
			break
		}
		if res.status == scanComplete {
			if ev, ok := e.complete(res); ok {
				events = append(events, ev)
			}
		}
		e.pending = e.pending[res.end:]
	}
	return events
}

// Finish marks the end of the stream. When no record completed it runs the
// fallback cascade over the full transcript and returns Completed events for
// whatever the cascade recovers. Later calls return nil.
func (e *Extractor) Finish() []Event {
	if e.finished {
		return nil
	}
	e.finished = true
	if len(e.completed) > 0 || e.transcript.Len() == 0 {
		return nil
	}

	recs, strategy := Fallback(e.transcript.String())
	e.strategy = strategy

	var events []Event
	for _, rec := range recs {
		if rec.Key == "" {
			continue
		}
		if _, dup := e.completed[rec.Key]; dup {
			continue
		}
		e.completed[rec.Key] = struct{}{}
		e.records = append(e.records, rec)
		events = append(events, Event{Kind: EventCompleted, Key: rec.Key, Record: rec})
	}
	return events
}

// Records returns the completed records in emission order.
func (e *Extractor) Records() []types.TranslationRecord {
	out := make([]types.TranslationRecord, len(e.records))
	copy(out, e.records)
	return out
}

// Transcript returns all text fed so far.
func (e *Extractor) Transcript() string {
	return e.transcript.String()
}

// Pending returns the unconsumed suffix still held for matching.
func (e *Extractor) Pending() string {
	return e.pending
}

// FallbackStrategy reports which cascade strategy Finish used, if any.
func (e *Extractor) FallbackStrategy() Strategy {
	return e.strategy
}

// UsedFallback reports whether Finish recovered records through the cascade.
func (e *Extractor) UsedFallback() bool {
	return e.strategy != StrategyNone
}

func (e *Extractor) complete(res scanResult) (Event, bool) {
	if res.key == "" {
		return Event{}, false
	}
	if _, dup := e.completed[res.key]; dup {
		return Event{}, false
	}
	rec := types.TranslationRecord{
		Key:            res.key,
		TranslatedText: DecodePayload(res.payload),
		Comment:        res.comment,
	}
	e.completed[res.key] = struct{}{}
	e.records = append(e.records, rec)
	return Event{Kind: EventCompleted, Key: rec.Key, Record: rec}, true
}

func (e *Extractor) announce(res scanResult) (Event, bool) {
	if !res.keyClosed || res.key == "" {
		return Event{}, false
	}
	if _, ok := e.started[res.key]; ok {
		return Event{}, false
	}
	if _, ok := e.completed[res.key]; ok {
		return Event{}, false
	}
	e.started[res.key] = struct{}{}
	return Event{Kind: EventStarted, Key: res.key}, true
}

// DecodePayload restores the literal text carried by an envelope payload:
// HTML entities first, then the \" \' \\ escapes. Other backslashes are kept.
func DecodePayload(raw string) string {
	return unescapeBackslashes(html.UnescapeString(raw))
}

func unescapeBackslashes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '"', '\'', '\\':
				sb.WriteByte(s[i+1])
				i++
				continue
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func decodeKey(raw string) string {
	return strings.TrimSpace(html.UnescapeString(raw))
}

func keepTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
