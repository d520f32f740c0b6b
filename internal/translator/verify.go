package translator

import (
	"strings"

	"locale-translator/internal/namespace"
	"locale-translator/internal/types"
)

// VerificationOutcome compares one attempt's records with the requested keys.
type VerificationOutcome struct {
	// MissingKeys are requested keys without a result, in request order.
	MissingKeys []string
	// UnexpectedKeys are result keys nobody asked for, including keys that do
	// not carry the batch prefix. They are reported but never fail an attempt.
	UnexpectedKeys []string
	// ValidRecords hold the accepted records with stripped keys, in request order.
	ValidRecords []types.TranslationRecord
	// Interrupted is set when the stream ended with an error.
	Interrupted bool
	// Lenient is set when the single-key rule accepted a record regardless of its key.
	Lenient bool
}

// OK reports whether the attempt satisfied verification.
func (v VerificationOutcome) OK() bool {
	return len(v.MissingKeys) == 0 && !v.Interrupted
}

// AttemptResult tags one attempt with its ordinal and outcome.
type AttemptResult struct {
	Attempt int
	// Records are what the model produced, with keys exactly as emitted.
	Records []types.TranslationRecord
	Outcome VerificationOutcome
	// StreamErr is the receive error that interrupted the attempt, if any.
	StreamErr error
}

// verify strips the namespace from every record and checks the result key
// set against requested.
func verify(ns namespace.Namespacer, requested []string, records []types.TranslationRecord, interrupted bool) VerificationOutcome {
	out := VerificationOutcome{Interrupted: interrupted}

	// a single-key batch accepts any lone non-empty record
	if len(requested) == 1 && len(records) == 1 && strings.TrimSpace(records[0].TranslatedText) != "" {
		rec := records[0]
		if k, ok := ns.Strip(rec.Key); !ok || k != requested[0] {
			out.Lenient = true
		}
		rec.Key = requested[0]
		out.ValidRecords = []types.TranslationRecord{rec}
		return out
	}

	want := make(map[string]struct{}, len(requested))
	for _, k := range requested {
		want[k] = struct{}{}
	}

	got := make(map[string]types.TranslationRecord, len(records))
	for _, rec := range records {
		key, ok := ns.Strip(rec.Key)
		if !ok {
			out.UnexpectedKeys = append(out.UnexpectedKeys, rec.Key)
			continue
		}
		if _, asked := want[key]; !asked {
			out.UnexpectedKeys = append(out.UnexpectedKeys, key)
			continue
		}
		rec.Key = key
		got[key] = rec
	}

	for _, k := range requested {
		rec, ok := got[k]
		if !ok {
			out.MissingKeys = append(out.MissingKeys, k)
			continue
		}
		out.ValidRecords = append(out.ValidRecords, rec)
	}
	return out
}
