// Package pipeline implements the post-run derivations: two
// independent, stateless, single-turn model calls that turn the
// agent's final task summary into a short fragment title and a
// user-facing response message.
package pipeline

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/codeloom/codeloom/llm"
)

// DefaultFallback is substituted when a derivation fails or returns
// nothing usable.
const DefaultFallback = "Fragment"

// Deriver runs the post-run derivations.
type Deriver struct {
	llm            llm.Client
	titlePrompt    string
	responsePrompt string
}

// NewDeriver creates a Deriver. Pass empty prompts to use the defaults.
func NewDeriver(client llm.Client, titlePrompt, responsePrompt string) *Deriver {
	if titlePrompt == "" {
		titlePrompt = DefaultTitlePrompt
	}
	if responsePrompt == "" {
		responsePrompt = DefaultResponsePrompt
	}
	return &Deriver{llm: client, titlePrompt: titlePrompt, responsePrompt: responsePrompt}
}

// Title derives a fragment title (max 3 words, title case) from the
// final summary. Failures are non-fatal and yield the fallback.
func (d *Deriver) Title(ctx context.Context, summary string) string {
	return d.derive(ctx, d.titlePrompt, summary)
}

// Response derives the 1-3 sentence user-facing message from the
// final summary. Failures are non-fatal and yield the fallback.
func (d *Deriver) Response(ctx context.Context, summary string) string {
	return d.derive(ctx, d.responsePrompt, summary)
}

// Derive runs both derivations concurrently; they have no data
// dependency on each other.
func (d *Deriver) Derive(ctx context.Context, summary string) (title, response string) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		title = d.Title(ctx, summary)
	}()
	go func() {
		defer wg.Done()
		response = d.Response(ctx, summary)
	}()
	wg.Wait()
	return title, response
}

func (d *Deriver) derive(ctx context.Context, system, summary string) string {
	text, err := llm.Complete(ctx, d.llm, system, summary)
	if err != nil {
		log.Printf("pipeline: derivation failed (using fallback): %v", err)
		return DefaultFallback
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return DefaultFallback
	}
	return text
}
