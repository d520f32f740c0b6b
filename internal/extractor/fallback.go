package extractor

import (
	"html"
	"regexp"
	"strings"

	"locale-translator/internal/types"
)

// Strategy names a fallback extraction strategy.
type Strategy int

const (
	StrategyNone Strategy = iota
	// StrategyStrict re-reads the record grammar leniently (tag case, attributes, fences).
	StrategyStrict
	// StrategyDirectPairing pairs envelope payloads with key fields by position.
	StrategyDirectPairing
	// StrategyUnescaped accepts values without an envelope.
	StrategyUnescaped
)

// String returns the string representation of the strategy
func (s Strategy) String() string {
	switch s {
	case StrategyNone:
		return "none"
	case StrategyStrict:
		return "strict"
	case StrategyDirectPairing:
		return "direct_pairing"
	case StrategyUnescaped:
		return "unescaped"
	default:
		return "unknown"
	}
}

var (
	fenceRe          = regexp.MustCompile("(?m)^[ \t]*```[A-Za-z0-9_-]*[ \t]*$")
	containerOpenRe  = regexp.MustCompile(`(?i)<translations\b[^>]*>`)
	containerCloseRe = regexp.MustCompile(`(?i)</translations\s*>`)
	strictRecordRe   = regexp.MustCompile(`(?is)<item\b[^>]*>\s*<key\b[^>]*>(.*?)</key\s*>\s*<value\b[^>]*>\s*((?:<!\[CDATA\[.*?\]\]>)+)\s*</value\s*>(?:\s*<comment\b[^>]*>(.*?)</comment\s*>)?\s*</item\s*>`)
	envelopeRunRe    = regexp.MustCompile(`(?s)(?:<!\[CDATA\[.*?\]\]>)+`)
	envelopeRe       = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)
	keyFieldRe       = regexp.MustCompile(`(?is)<key\b[^>]*>(.*?)</key\s*>`)
	plainPairRe      = regexp.MustCompile(`(?is)<key\b[^>]*>(.*?)</key\s*>\s*<value\b[^>]*>(.*?)(?:</value\s*>|\z)`)
	plainValueRe     = regexp.MustCompile(`(?is)<value\b[^>]*>(.*?)(?:</value\s*>|\z)`)
)

// Fallback runs the one-shot extraction cascade over a complete response.
// Strategies are tried in order and the first non-empty result wins.
func Fallback(fullText string) ([]types.TranslationRecord, Strategy) {
	doc := normalizeDocument(fullText)
	if recs := strictPass(doc); len(recs) > 0 {
		return recs, StrategyStrict
	}
	if recs := directPairing(doc); len(recs) > 0 {
		return recs, StrategyDirectPairing
	}
	if recs := unescapedPass(doc); len(recs) > 0 {
		return recs, StrategyUnescaped
	}
	return nil, StrategyNone
}

// normalizeDocument cuts the text down to the outer container, wrapping it
// in one when the model omitted it. Fence lines are only dropped around the
// records, so a value may itself hold a fence line.
func normalizeDocument(text string) string {
	if loc := containerOpenRe.FindStringIndex(text); loc != nil {
		text = text[loc[0]:]
		if end := containerCloseRe.FindAllStringIndex(text, -1); len(end) > 0 {
			last := end[len(end)-1]
			return text[:last[1]]
		}
		return stripOuterFences(text)
	}
	return containerOpen + "\n" + stripOuterFences(text) + "\n" + containerClose
}

// stripOuterFences removes a fence line opening the text and one closing it.
func stripOuterFences(text string) string {
	text = strings.TrimSpace(text)
	if loc := fenceRe.FindStringIndex(text); loc != nil && loc[0] == 0 {
		text = text[loc[1]:]
	}
	if locs := fenceRe.FindAllStringIndex(text, -1); len(locs) > 0 {
		last := locs[len(locs)-1]
		if strings.TrimSpace(text[last[1]:]) == "" {
			text = text[:last[0]]
		}
	}
	return strings.TrimSpace(text)
}

func strictPass(doc string) []types.TranslationRecord {
	var c collector
	for _, m := range strictRecordRe.FindAllStringSubmatch(doc, -1) {
		c.add(types.TranslationRecord{
			Key:            decodeKey(m[1]),
			TranslatedText: DecodePayload(joinEnvelopes(m[2])),
			Comment:        strings.TrimSpace(html.UnescapeString(m[3])),
		})
	}
	return c.records
}

func directPairing(doc string) []types.TranslationRecord {
	payloads := envelopeRunRe.FindAllString(doc, -1)
	keys := keyFieldRe.FindAllStringSubmatch(doc, -1)
	if len(payloads) == 0 || len(payloads) != len(keys) {
		return nil
	}
	var c collector
	for i := range keys {
		c.add(types.TranslationRecord{
			Key:            decodeKey(keys[i][1]),
			TranslatedText: DecodePayload(joinEnvelopes(payloads[i])),
		})
	}
	return c.records
}

func unescapedPass(doc string) []types.TranslationRecord {
	var c collector
	for _, m := range plainPairRe.FindAllStringSubmatch(doc, -1) {
		c.add(types.TranslationRecord{Key: decodeKey(m[1]), TranslatedText: plainValue(m[2])})
	}
	if len(c.records) > 0 {
		return c.records
	}

	keys := keyFieldRe.FindAllStringSubmatch(doc, -1)
	values := plainValueRe.FindAllStringSubmatch(doc, -1)
	if len(keys) == 0 || len(keys) != len(values) {
		return nil
	}
	for i := range keys {
		c.add(types.TranslationRecord{Key: decodeKey(keys[i][1]), TranslatedText: plainValue(values[i][1])})
	}
	return c.records
}

// plainValue decodes a value that lacks a proper envelope. Leftovers of an
// unterminated envelope are stripped.
func plainValue(raw string) string {
	v := strings.TrimSpace(raw)
	v = strings.TrimPrefix(v, envelopeOpen)
	v = strings.TrimSuffix(v, envelopeClose)
	v = strings.TrimSuffix(strings.TrimSpace(v), containerClose)
	return strings.TrimSpace(html.UnescapeString(v))
}

func joinEnvelopes(run string) string {
	var sb strings.Builder
	for _, m := range envelopeRe.FindAllStringSubmatch(run, -1) {
		sb.WriteString(m[1])
	}
	return sb.String()
}

// collector keeps the first record per key and drops empty or suspicious keys.
type collector struct {
	seen    map[string]struct{}
	records []types.TranslationRecord
}

func (c *collector) add(rec types.TranslationRecord) {
	if rec.Key == "" || strings.ContainsAny(rec.Key, "<>") {
		return
	}
	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}
	if _, dup := c.seen[rec.Key]; dup {
		return
	}
	c.seen[rec.Key] = struct{}{}
	c.records = append(c.records, rec)
}
