package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

// Renderer turns message content into terminal output. Markdown goes through glamour,
// plain text is word wrapped.
type Renderer struct {
	markdown bool
	style    string
	width    int
	term     *glamour.TermRenderer
}

type RendererOption func(*Renderer)

func WithMarkdown(markdown bool) RendererOption {
	return func(r *Renderer) {
		r.markdown = markdown
	}
}

// WithGlamourStyle selects one of glamour's standard styles ("dark", "light", "notty").
func WithGlamourStyle(style string) RendererOption {
	return func(r *Renderer) {
		r.style = style
	}
}

func NewRenderer(options ...RendererOption) *Renderer {
	ret := &Renderer{
		markdown: true,
		style:    "dark",
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// SetWidth rebuilds the markdown renderer when the width changed.
func (r *Renderer) SetWidth(width int) {
	if width < 1 {
		width = 1
	}
	if width == r.width && r.term != nil {
		return
	}
	r.width = width
	r.term = nil
	if !r.markdown {
		return
	}

	term, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(r.style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		log.Warn().Err(err).Msg("could not create markdown renderer, falling back to plain text")
		return
	}
	r.term = term
}

func (r *Renderer) Render(content string) string {
	if r.width == 0 {
		r.SetWidth(80)
	}
	if r.term != nil {
		out, err := r.term.Render(content)
		if err == nil {
			return strings.Trim(out, "\n")
		}
		log.Debug().Err(err).Msg("markdown rendering failed")
	}
	return wrapWords(content, r.width)
}

func wrapWords(text string, width int) string {
	if width < 1 {
		return text
	}
	w := wordwrap.NewWriter(width)
	w.Breakpoints = []rune{' ', '-'}
	_, _ = w.Write([]byte(text))
	_ = w.Close()
	return w.String()
}

// TokenCounter counts tokens the way the selected model would.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter picks the codec for model, or cl100k_base if the model is unknown
// to the tokenizer.
func NewTokenCounter(model string) *TokenCounter {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warn().Err(err).Msg("no tokenizer available")
			return &TokenCounter{}
		}
	}
	return &TokenCounter{codec: codec}
}

// Count returns -1 if no codec could be loaded.
func (t *TokenCounter) Count(texts ...string) int {
	if t == nil || t.codec == nil {
		return -1
	}
	total := 0
	for _, text := range texts {
		ids, _, err := t.codec.Encode(text)
		if err != nil {
			log.Debug().Err(err).Msg("could not tokenize")
			continue
		}
		total += len(ids)
	}
	return total
}
