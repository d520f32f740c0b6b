package extractor

import (
	"html"
	"strings"
)

type scanStatus int

const (
	scanIncomplete scanStatus = iota
	scanComplete
	scanMalformed
)

// scanResult describes the record at the front of the pending buffer.
type scanResult struct {
	status    scanStatus
	key       string
	keyClosed bool
	payload   string
	comment   string
	// end is the number of bytes to consume; -1 when a malformed record is not closed yet.
	end int
}

type match int

const (
	matchOK match = iota
	matchPartial
	matchMissing
)

type cursor struct {
	s   string
	pos int
}

func (c *cursor) skipSpace() {
	for c.pos < len(c.s) {
		switch c.s[c.pos] {
		case ' ', '\t', '\n', '\r':
			c.pos++
		default:
			return
		}
	}
}

// expect consumes tok when the input continues with it. matchPartial means the
// input ends inside tok.
func (c *cursor) expect(tok string) match {
	rest := c.s[c.pos:]
	if strings.HasPrefix(rest, tok) {
		c.pos += len(tok)
		return matchOK
	}
	if len(rest) < len(tok) && strings.HasPrefix(tok, rest) {
		return matchPartial
	}
	return matchMissing
}

// until returns the text before tok and moves past tok.
func (c *cursor) until(tok string) (string, bool) {
	i := strings.Index(c.s[c.pos:], tok)
	if i < 0 {
		return "", false
	}
	out := c.s[c.pos : c.pos+i]
	c.pos += i + len(tok)
	return out, true
}

// scanRecord parses the record starting at s[0], which must be recordOpen.
func scanRecord(s string) scanResult {
	var r scanResult
	c := cursor{s: s, pos: len(recordOpen)}

	c.skipSpace()
	switch c.expect(keyOpen) {
	case matchPartial:
		return r
	case matchMissing:
		return malformed(r, s)
	}
	rawKey, ok := c.until(keyClose)
	if !ok {
		if strings.Contains(s[len(recordOpen):], recordOpen) || strings.Contains(s, recordClose) {
			return malformed(r, s)
		}
		return r
	}
	if strings.Contains(rawKey, "<") {
		return malformed(r, s)
	}
	r.key = decodeKey(rawKey)
	r.keyClosed = true

	c.skipSpace()
	switch c.expect(valueOpen) {
	case matchPartial:
		return r
	case matchMissing:
		return malformed(r, s)
	}
	c.skipSpace()
	switch c.expect(envelopeOpen) {
	case matchPartial:
		return r
	case matchMissing:
		return malformed(r, s)
	}

	var payload strings.Builder
	for {
		part, ok := c.until(envelopeClose)
		if !ok {
			return r
		}
		if strings.Contains(part, envelopeOpen) {
			// the envelope was never closed and we ran into the next record
			return malformed(r, s)
		}
		payload.WriteString(part)
		// adjacent sections are one value
		m := c.expect(envelopeOpen)
		if m == matchPartial {
			return r
		}
		if m == matchMissing {
			break
		}
	}

	c.skipSpace()
	switch c.expect(valueClose) {
	case matchPartial:
		return r
	case matchMissing:
		return malformed(r, s)
	}

	c.skipSpace()
	switch c.expect(commentOpen) {
	case matchPartial:
		return r
	case matchOK:
		note, ok := c.until(commentClose)
		if !ok {
			return r
		}
		r.comment = strings.TrimSpace(html.UnescapeString(note))
		c.skipSpace()
	}

	switch c.expect(recordClose) {
	case matchPartial:
		return r
	case matchMissing:
		return malformed(r, s)
	}

	r.status = scanComplete
	r.payload = payload.String()
	r.end = c.pos
	return r
}

func malformed(r scanResult, s string) scanResult {
	r.status = scanMalformed
	r.end = skipMalformed(s)
	return r
}

// skipMalformed returns where scanning resumes after a broken record at s[0]:
// after its closing marker or at the next record, whichever comes first.
// It returns -1 when neither has arrived yet.
func skipMalformed(s string) int {
	next := strings.Index(s[len(recordOpen):], recordOpen)
	if next >= 0 {
		next += len(recordOpen)
	}
	end := strings.Index(s, recordClose)
	if end >= 0 {
		end += len(recordClose)
	}
	switch {
	case next >= 0 && (end < 0 || next < end):
		return next
	case end >= 0:
		return end
	}
	return -1
}
