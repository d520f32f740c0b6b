package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"locale-translator/internal/types"
)

// entry is one key/text pair of a flat string file, in file order.
type entry struct {
	Key  string
	Text string
}

// readFlatJSON decodes a {"key":"text"} object keeping the key order of the file.
func readFlatJSON(r io.Reader) ([]entry, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to read string file: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("string file must be a JSON object")
	}

	var entries []entry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to read key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var text string
		if err := dec.Decode(&text); err != nil {
			return nil, fmt.Errorf("value of %q must be a string: %w", key, err)
		}
		entries = append(entries, entry{Key: key, Text: text})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to read string file: %w", err)
	}
	return entries, nil
}

func loadEntries(path string) ([]entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readFlatJSON(f)
}

// loadContext reads optional per-key translator notes.
func loadContext(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	notes := make(map[string]string)
	if err := json.Unmarshal(data, &notes); err != nil {
		return nil, fmt.Errorf("failed to parse context file: %w", err)
	}
	return notes, nil
}

func buildItems(entries []entry, notes map[string]string) []types.BatchItem {
	items := make([]types.BatchItem, len(entries))
	for i, e := range entries {
		items[i] = types.BatchItem{Key: e.Key, Text: e.Text, Context: notes[e.Key]}
	}
	return items
}

// writeFlatJSON writes records as an indented JSON object in record order.
func writeFlatJSON(w io.Writer, records []types.TranslationRecord) error {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, rec := range records {
		if i > 0 {
			buf.WriteString(",")
		}
		k, err := marshalNoEscape(rec.Key)
		if err != nil {
			return err
		}
		v, err := marshalNoEscape(rec.TranslatedText)
		if err != nil {
			return err
		}
		fmt.Fprintf(&buf, "\n  %s: %s", k, v)
	}
	if len(records) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	_, err := w.Write(buf.Bytes())
	return err
}

// marshalNoEscape keeps <, > and & literal, which matters for markup in UI strings.
func marshalNoEscape(s string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func saveOutput(path string, records []types.TranslationRecord) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := writeFlatJSON(f, records); err != nil {
		f.Close()
		return fmt.Errorf("failed to write output: %w", err)
	}
	return f.Close()
}

// batchName derives the run name from the input file stem.
func batchName(input string) string {
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
