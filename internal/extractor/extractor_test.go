package extractor

import (
	"math/rand"
	"sort"
	"strings"
	"testing"
	"testing/quick"

	"locale-translator/internal/types"
)

// quickConfig returns the configuration for property-based tests
func quickConfig() *quick.Config {
	return &quick.Config{
		MaxCount: 200,
		Rand:     rand.New(rand.NewSource(42)),
	}
}

type pair struct {
	key, value string
}

// buildResponse renders pairs in the wire grammar the prompt asks for.
func buildResponse(pairs ...pair) string {
	var sb strings.Builder
	sb.WriteString("<translations>\n")
	for _, p := range pairs {
		sb.WriteString("  <item>\n    <key>")
		sb.WriteString(p.key)
		sb.WriteString("</key>\n    <value><![CDATA[")
		sb.WriteString(p.value)
		sb.WriteString("]]></value>\n  </item>\n")
	}
	sb.WriteString("</translations>\n")
	return sb.String()
}

func feedAll(e *Extractor, chunks ...string) []Event {
	var events []Event
	for _, c := range chunks {
		events = append(events, e.Feed(c)...)
	}
	return append(events, e.Finish()...)
}

func recordMap(recs []types.TranslationRecord) map[string]string {
	m := make(map[string]string, len(recs))
	for _, r := range recs {
		m[r.Key] = r.TranslatedText
	}
	return m
}

func TestFeed_SingleShotYieldsEveryKey(t *testing.T) {
	pairs := []pair{
		{"app.title", "Titre"},
		{"app.menu.open", "Ouvrir"},
		{"app.menu.close", "Fermer"},
		{"errors.not_found", "Introuvable"},
	}
	e := New()
	events := feedAll(e, buildResponse(pairs...))

	completed := 0
	for _, ev := range events {
		if ev.Kind == EventStarted {
			t.Errorf("unexpected started event for %q in single-shot feed", ev.Key)
		}
		if ev.Kind == EventCompleted {
			completed++
		}
	}
	if completed != len(pairs) {
		t.Fatalf("expected %d completed events, got %d", len(pairs), completed)
	}

	got := recordMap(e.Records())
	for _, p := range pairs {
		if got[p.key] != p.value {
			t.Errorf("key %s: expected %q, got %q", p.key, p.value, got[p.key])
		}
	}
	if e.FallbackStrategy() != StrategyNone {
		t.Errorf("fallback should not run, got %s", e.FallbackStrategy())
	}
}

func TestFeed_SplitEnvelopeDelimiter(t *testing.T) {
	resp := buildResponse(pair{"greeting", "Hello"}, pair{"farewell", "Bye"})

	first := strings.Index(resp, envelopeOpen) + 4
	second := strings.LastIndex(resp, envelopeOpen) + 2
	cuts := []int{7, first, first + 5, second}
	chunks := make([]string, 0, 5)
	prev := 0
	for _, c := range cuts {
		chunks = append(chunks, resp[prev:c])
		prev = c
	}
	chunks = append(chunks, resp[prev:])
	if len(chunks) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(chunks))
	}

	e := New()
	events := feedAll(e, chunks...)

	var keys []string
	for _, ev := range events {
		if ev.Kind == EventCompleted {
			keys = append(keys, ev.Key)
		}
	}
	sort.Strings(keys)
	if strings.Join(keys, ",") != "farewell,greeting" {
		t.Fatalf("unexpected completed keys: %v", keys)
	}
	got := recordMap(e.Records())
	if got["greeting"] != "Hello" || got["farewell"] != "Bye" {
		t.Errorf("decoded text changed: %v", got)
	}
}

func TestFeed_TruncatedStreamKeepsFirstRecord(t *testing.T) {
	resp := buildResponse(pair{"greeting", "Hello"}, pair{"farewell", "Bye"})
	truncated := resp[:strings.LastIndex(resp, recordClose)]

	e := New()
	for _, c := range []string{truncated[:30], truncated[30:]} {
		e.Feed(c)
	}
	if fin := e.Finish(); fin != nil {
		t.Errorf("fallback must not run after a record completed, got %v", fin)
	}
	recs := e.Records()
	if len(recs) != 1 || recs[0].Key != "greeting" {
		t.Fatalf("expected only greeting, got %+v", recs)
	}
	if e.FallbackStrategy() != StrategyNone {
		t.Errorf("expected no fallback, got %s", e.FallbackStrategy())
	}
}

func TestFeed_StartedPrecedesCompleted(t *testing.T) {
	resp := buildResponse(pair{"a", "one"}, pair{"b", "two"}, pair{"c", "three"})
	e := New()

	var events []Event
	for i := 0; i < len(resp); i++ {
		events = append(events, e.Feed(resp[i:i+1])...)
	}
	events = append(events, e.Finish()...)

	startedAt := map[string]int{}
	completedAt := map[string]int{}
	for i, ev := range events {
		switch ev.Kind {
		case EventStarted:
			if _, dup := startedAt[ev.Key]; dup {
				t.Errorf("started fired twice for %s", ev.Key)
			}
			startedAt[ev.Key] = i
		case EventCompleted:
			if _, dup := completedAt[ev.Key]; dup {
				t.Errorf("completed fired twice for %s", ev.Key)
			}
			completedAt[ev.Key] = i
		}
	}
	for _, k := range []string{"a", "b", "c"} {
		s, ok := startedAt[k]
		if !ok {
			t.Errorf("byte-wise feed should announce %s", k)
			continue
		}
		if c, ok := completedAt[k]; !ok || s >= c {
			t.Errorf("key %s: started at %d, completed at %d", k, s, completedAt[k])
		}
	}
}

func TestFeed_StartedNeverAfterCompleted(t *testing.T) {
	e := New()
	e.Feed(buildResponse(pair{"dup", "first"}))
	// a second record with the same key is in progress
	events := e.Feed("<item><key>dup</key><value><![CDATA[sec")
	for _, ev := range events {
		if ev.Kind == EventStarted && ev.Key == "dup" {
			t.Fatal("started must not fire for an already completed key")
		}
	}
}

func TestFeed_DuplicateKeyFirstWriterWins(t *testing.T) {
	e := New()
	events := feedAll(e, buildResponse(pair{"k", "first"}, pair{"k", "second"}))

	completed := 0
	for _, ev := range events {
		if ev.Kind == EventCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("expected 1 completed event, got %d", completed)
	}
	if got := e.Records()[0].TranslatedText; got != "first" {
		t.Errorf("expected first value to win, got %q", got)
	}
}

func TestFeed_EmptyKeyIgnored(t *testing.T) {
	e := New()
	feedAll(e, buildResponse(pair{"  ", "orphan"}, pair{"ok", "fine"}))
	recs := e.Records()
	if len(recs) != 1 || recs[0].Key != "ok" {
		t.Fatalf("expected only ok, got %+v", recs)
	}
}

func TestFeed_RoundTripFidelity(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"markup", `Hello <b>World</b> <a href="/x">link</a>`, `Hello <b>World</b> <a href="/x">link</a>`},
		{"quotes", `Say "hi" and 'bye'`, `Say "hi" and 'bye'`},
		{"escaped quotes", `Say \"hi\" and \'bye\'`, `Say "hi" and 'bye'`},
		{"escaped backslash", `C:\\temp\\new`, `C:\temp\new`},
		{"other escapes kept", `line\nnext`, `line\nnext`},
		{"entities", `Fish &amp; chips &lt;3`, `Fish & chips <3`},
		{"cjk and emoji", "你好，世界 🌍 こんにちは", "你好，世界 🌍 こんにちは"},
		{"newlines", "first line\nsecond line\n", "first line\nsecond line\n"},
		{"placeholders", "{count} items for {name}", "{count} items for {name}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := buildResponse(pair{"k", tt.raw})
			for _, size := range []int{1, 3, 7, len(resp)} {
				e := New()
				var chunks []string
				for i := 0; i < len(resp); i += size {
					end := i + size
					if end > len(resp) {
						end = len(resp)
					}
					chunks = append(chunks, resp[i:end])
				}
				feedAll(e, chunks...)
				recs := e.Records()
				if len(recs) != 1 {
					t.Fatalf("chunk size %d: expected 1 record, got %d", size, len(recs))
				}
				if recs[0].TranslatedText != tt.want {
					t.Errorf("chunk size %d: expected %q, got %q", size, tt.want, recs[0].TranslatedText)
				}
			}
		})
	}
}

func TestFeed_AdjacentEnvelopesConcatenate(t *testing.T) {
	resp := "<item><key>k</key><value><![CDATA[a ]]]]><![CDATA[> b]]></value></item>"
	e := New()
	feedAll(e, resp[:28], resp[28:])
	recs := e.Records()
	if len(recs) != 1 || recs[0].TranslatedText != "a ]]> b" {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestFeed_CommentField(t *testing.T) {
	resp := "<item><key>k</key><value><![CDATA[Salut]]></value>\n<comment>informal &amp; short</comment></item>"
	e := New()
	feedAll(e, resp)
	recs := e.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].Comment != "informal & short" {
		t.Errorf("unexpected comment %q", recs[0].Comment)
	}
}

func TestFeed_MalformedRecordSkipped(t *testing.T) {
	resp := "<translations>" +
		"<item><key>bad</key><value>no envelope</value></item>" +
		"<item><key>good</key><value><![CDATA[ok]]></value></item>" +
		"</translations>"
	e := New()
	events := feedAll(e, resp)
	recs := e.Records()
	if len(recs) != 1 || recs[0].Key != "good" {
		t.Fatalf("expected only good, got %+v", recs)
	}
	for _, ev := range events {
		if ev.Kind == EventCompleted && ev.Key == "bad" {
			t.Error("malformed record must not complete on the incremental path")
		}
	}
}

func TestFeed_UnterminatedEnvelopeDoesNotSwallowNextRecord(t *testing.T) {
	resp := "<item><key>a</key><value><![CDATA[Hello</value></item>" +
		"<item><key>b</key><value><![CDATA[Bye]]></value></item>"
	e := New()
	feedAll(e, resp)
	got := recordMap(e.Records())
	if len(got) != 1 || got["b"] != "Bye" {
		t.Fatalf("expected only b=Bye, got %v", got)
	}
}

func TestFeed_PendingBufferStaysBounded(t *testing.T) {
	e := New()
	noise := strings.Repeat("Sure! Here are your translations. ", 200)
	e.Feed(noise)
	if len(e.Pending()) >= len(recordOpen) {
		t.Errorf("pending should only hold a possible marker prefix, got %d bytes", len(e.Pending()))
	}
	e.Feed(buildResponse(pair{"k", "v"}))
	if len(e.Records()) != 1 {
		t.Fatal("record after noise should be parsed")
	}
	if strings.Contains(e.Pending(), "<key>") {
		t.Errorf("consumed record should be cut from pending: %q", e.Pending())
	}
	if !strings.HasPrefix(e.Transcript(), noise) {
		t.Error("transcript should keep the full text")
	}
}

func TestFinish_RunsFallbackWhenNothingCompleted(t *testing.T) {
	e := New()
	events := feedAll(e, "Result: <key>greeting</key> => <![CDATA[Hola]]>")
	if len(events) != 1 || events[0].Kind != EventCompleted {
		t.Fatalf("expected one completed event from fallback, got %+v", events)
	}
	if events[0].Record.TranslatedText != "Hola" {
		t.Errorf("unexpected text %q", events[0].Record.TranslatedText)
	}
	if e.FallbackStrategy() != StrategyDirectPairing {
		t.Errorf("expected direct pairing, got %s", e.FallbackStrategy())
	}
	if again := e.Finish(); again != nil {
		t.Errorf("second Finish should return nil, got %v", again)
	}
	if more := e.Feed("<item>"); more != nil {
		t.Errorf("feed after finish should be ignored, got %v", more)
	}
}

func TestFinish_EmptyStream(t *testing.T) {
	e := New()
	if events := e.Finish(); events != nil {
		t.Errorf("expected no events, got %v", events)
	}
}

func TestProperty_ChunkBoundaryInvariance(t *testing.T) {
	pairs := []pair{
		{"nav.home", "Accueil"},
		{"nav.back", `Retour <i>"vite"</i>`},
		{"msg.count", "{n} éléments 📦"},
		{"msg.path", `C:\\Users\\me`},
		{"msg.multi", "ligne 1\nligne 2"},
	}
	resp := buildResponse(pairs...)

	whole := New()
	feedAll(whole, resp)
	want := recordMap(whole.Records())
	if len(want) != len(pairs) {
		t.Fatalf("single feed produced %d records", len(want))
	}

	property := func(cuts []uint16) bool {
		points := make([]int, 0, len(cuts))
		for _, c := range cuts {
			points = append(points, int(c)%len(resp))
		}
		sort.Ints(points)

		e := New()
		prev := 0
		for _, p := range points {
			e.Feed(resp[prev:p])
			prev = p
		}
		e.Feed(resp[prev:])
		e.Finish()

		got := recordMap(e.Records())
		if len(got) != len(want) {
			return false
		}
		for k, v := range want {
			if got[k] != v {
				return false
			}
		}
		return true
	}

	if err := quick.Check(property, quickConfig()); err != nil {
		t.Error(err)
	}
}

func TestProperty_Bijection(t *testing.T) {
	property := func(n uint8) bool {
		count := int(n%30) + 1
		pairs := make([]pair, count)
		for i := range pairs {
			pairs[i] = pair{key: "k" + strings.Repeat("x", i), value: strings.Repeat("v", i+1)}
		}
		e := New()
		feedAll(e, buildResponse(pairs...))
		recs := e.Records()
		if len(recs) != count {
			return false
		}
		seen := map[string]bool{}
		for _, r := range recs {
			if seen[r.Key] {
				return false
			}
			seen[r.Key] = true
		}
		return true
	}
	if err := quick.Check(property, quickConfig()); err != nil {
		t.Error(err)
	}
}

func TestDecodePayload(t *testing.T) {
	tests := map[string]string{
		"plain":             "plain",
		`a\"b`:              `a"b`,
		`a\\b`:              `a\b`,
		`trailing\`:         `trailing\`,
		"&quot;x&quot;":     `"x"`,
		"&#92;&quot;":       `"`,
		"tab\\tstays":       "tab\\tstays",
		"<b>bold</b> &amp;": "<b>bold</b> &",
	}
	for in, want := range tests {
		if got := DecodePayload(in); got != want {
			t.Errorf("DecodePayload(%q) = %q, want %q", in, got, want)
		}
	}
}
