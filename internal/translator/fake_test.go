package translator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"locale-translator/internal/namespace"
)

// scripted is one canned model response.
type scripted struct {
	chunks  []string
	recvErr error // delivered after the chunks
	openErr error
	usage   *schema.TokenUsage
}

// fakeChat replays scripted responses, one per Stream call. The last script
// repeats once the list is exhausted.
type fakeChat struct {
	mu      sync.Mutex
	scripts []scripted
	calls   int
	inputs  [][]*schema.Message
}

func (f *fakeChat) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return nil, errors.New("fakeChat: Generate not supported")
}

func (f *fakeChat) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.inputs = append(f.inputs, in)
	if idx >= len(f.scripts) {
		idx = len(f.scripts) - 1
	}
	s := f.scripts[idx]
	f.mu.Unlock()

	if s.openErr != nil {
		return nil, s.openErr
	}
	return replay(s), nil
}

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func replay(s scripted) *schema.StreamReader[*schema.Message] {
	sr, sw := schema.Pipe[*schema.Message](len(s.chunks) + 2)
	go func() {
		defer sw.Close()
		for _, c := range s.chunks {
			sw.Send(schema.AssistantMessage(c, nil), nil)
		}
		if s.usage != nil {
			sw.Send(&schema.Message{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{Usage: s.usage}}, nil)
		}
		if s.recvErr != nil {
			sw.Send(nil, s.recvErr)
		}
	}()
	return sr
}

// echoChat answers every prompt by translating each requested key to
// "<key>!" and silently dropping the keys in drop.
type echoChat struct {
	mu    sync.Mutex
	drop  map[string]bool
	calls int
}

var promptKeyRe = regexp.MustCompile(`<key>(.*?)</key>`)

func (e *echoChat) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return nil, errors.New("echoChat: Generate not supported")
}

func (e *echoChat) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	user := in[len(in)-1].Content
	var sb strings.Builder
	sb.WriteString("<translations>")
	for _, m := range promptKeyRe.FindAllStringSubmatch(user, -1) {
		nsKey := m[1]
		orig := nsKey[strings.Index(nsKey, ".")+1:]
		if e.drop[orig] {
			continue
		}
		sb.WriteString(itemXML(nsKey, orig+"!"))
	}
	sb.WriteString("</translations>")
	return replay(scripted{
		chunks: splitEvery(sb.String(), 11),
		usage:  &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}), nil
}

func itemXML(key, text string) string {
	return fmt.Sprintf("<item><key>%s</key><value><![CDATA[%s]]></value></item>", key, text)
}

// response renders namespaced records for the given key/text pairs.
func response(ns namespace.Namespacer, pairs ...string) string {
	var sb strings.Builder
	sb.WriteString("<translations>\n")
	for i := 0; i+1 < len(pairs); i += 2 {
		sb.WriteString(itemXML(ns.Apply(pairs[i]), pairs[i+1]))
		sb.WriteString("\n")
	}
	sb.WriteString("</translations>")
	return sb.String()
}

func splitEvery(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
