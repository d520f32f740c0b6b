// Package namespace prefixes batch keys so results can be attributed to the
// batch that requested them.
package namespace

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// separator joins the prefix and the original key.
const separator = "."

// Namespacer applies and strips a per-batch key prefix.
type Namespacer struct {
	prefix string
}

// New derives the prefix from a batch identity such as a source file path.
// The prefix is the sanitised file stem followed by a short hash of the full
// identity, so two batches with the same stem still get distinct prefixes.
func New(batchID string) Namespacer {
	return Namespacer{prefix: derivePrefix(batchID)}
}

// Prefix returns the derived prefix without the separator.
func (n Namespacer) Prefix() string {
	return n.prefix
}

// Apply returns prefix + "." + key.
func (n Namespacer) Apply(key string) string {
	return n.prefix + separator + key
}

// ApplyAll namespaces every key, keeping order.
func (n Namespacer) ApplyAll(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = n.Apply(k)
	}
	return out
}

// Strip removes the prefix. ok is false when key does not carry it.
func (n Namespacer) Strip(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, n.prefix+separator)
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}

func derivePrefix(batchID string) string {
	stem := filepath.Base(filepath.ToSlash(strings.TrimSpace(batchID)))
	// strip every extension: messages.en.json -> messages
	if i := strings.IndexByte(stem, '.'); i > 0 {
		stem = stem[:i]
	}

	var sb strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	clean := strings.Trim(sb.String(), "_")
	if clean == "" || clean == "-" {
		clean = "batch"
	}
	return fmt.Sprintf("%s_%08x", clean, uint32(xxhash.Sum64String(batchID)))
}
