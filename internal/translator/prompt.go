package translator

import (
	"fmt"
	"html"
	"slices"
	"strings"

	"github.com/cloudwego/eino/schema"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"locale-translator/internal/namespace"
	"locale-translator/internal/types"
)

// PromptBuilder renders the messages sent for one batch. Item keys must be
// rendered namespaced so the response can be attributed to the batch.
type PromptBuilder interface {
	Build(req types.BatchRequest, ns namespace.Namespacer) ([]*schema.Message, error)
}

// DefaultPromptBuilder instructs the model to answer in the record grammar
// the extractor consumes.
type DefaultPromptBuilder struct {
	// Instructions are appended to the system prompt, e.g. a style guide.
	Instructions string
}

// Build implements PromptBuilder
func (b DefaultPromptBuilder) Build(req types.BatchRequest, ns namespace.Namespacer) ([]*schema.Message, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("batch %s has no items", req.BatchID)
	}
	return []*schema.Message{
		schema.SystemMessage(b.systemPrompt(req)),
		schema.UserMessage(b.userPrompt(req, ns)),
	}, nil
}

func (b DefaultPromptBuilder) systemPrompt(req types.BatchRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a professional software localizer. Translate user interface strings from %s to %s.\n\n",
		localeName(req.SourceLocale), localeName(req.TargetLocale))
	sb.WriteString(`Rules:
1. Translate every item. Do not skip, merge or add items.
2. Copy each <key> exactly as given.
3. Keep placeholders, markup tags, escape sequences and surrounding whitespace unchanged.
4. Wrap every translation in <![CDATA[ ]]> and do not escape its content.
5. Use <comment> only for a short note to the reviewer, and omit it otherwise.

Respond with this XML only, no explanations and no code fences:
<translations>
  <item>
    <key>KEY</key>
    <value><![CDATA[TRANSLATION]]></value>
  </item>
</translations>`)
	if s := strings.TrimSpace(b.Instructions); s != "" {
		sb.WriteString("\n\nAdditional instructions:\n")
		sb.WriteString(s)
	}
	return sb.String()
}

func (b DefaultPromptBuilder) userPrompt(req types.BatchRequest, ns namespace.Namespacer) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Translate the following %d items into %s:\n\n<translations>\n", len(req.Items), localeName(req.TargetLocale))
	for _, it := range req.Items {
		sb.WriteString("  <item>\n")
		// the extractor unescapes keys, so markup characters must go out escaped
		fmt.Fprintf(&sb, "    <key>%s</key>\n", html.EscapeString(ns.Apply(it.Key)))
		fmt.Fprintf(&sb, "    <source><![CDATA[%s]]></source>\n", escapeEnvelope(it.Text))
		if c := strings.TrimSpace(it.Context); c != "" {
			fmt.Fprintf(&sb, "    <context><![CDATA[%s]]></context>\n", escapeEnvelope(c))
		}
		locales := make([]string, 0, len(it.References))
		for loc := range it.References {
			locales = append(locales, loc)
		}
		slices.Sort(locales)
		for _, loc := range locales {
			fmt.Fprintf(&sb, "    <reference locale=%q><![CDATA[%s]]></reference>\n", loc, escapeEnvelope(it.References[loc]))
		}
		sb.WriteString("  </item>\n")
	}
	sb.WriteString("</translations>")
	return sb.String()
}

// escapeEnvelope splits a literal "]]>" across two adjacent CDATA sections.
func escapeEnvelope(s string) string {
	return strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>")
}

// localeName renders a tag as "German (de)", falling back to the bare tag.
func localeName(locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		return locale
	}
	name := display.English.Tags().Name(tag)
	if name == "" {
		return locale
	}
	return fmt.Sprintf("%s (%s)", name, tag)
}
