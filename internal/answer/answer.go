// Package answer produces streamed, citation-grounded answers over the
// retrieval layer. Events flow through a channel so transports (SSE, CLI)
// can forward them incrementally; cancelling the context stops the stream.
package answer

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/quarrylabs/quarry/internal/provider"
	"github.com/quarrylabs/quarry/internal/retrieval"
)

// Event kinds emitted on the answer stream.
const (
	EventStatus   = "status"
	EventCitation = "citation"
	EventToken    = "token"
	EventError    = "error"
	EventDone     = "done"
)

// Event is one element of the answer stream.
type Event struct {
	Type     string                  `json:"type"`
	Text     string                  `json:"text,omitempty"`
	Citation *retrieval.SearchResult `json:"citation,omitempty"`
}

// Searcher is the retrieval dependency; *retrieval.Service satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, filters retrieval.Filters) ([]retrieval.SearchResult, error)
}

// Service streams answers grounded in retrieved segments.
type Service struct {
	search Searcher
	llm    provider.StreamingLLM
	topK   int
	logger *log.Logger
}

// New builds a Service. topK bounds how many segments ground each answer.
func New(search Searcher, llm provider.StreamingLLM, topK int, logger *log.Logger) (*Service, error) {
	if search == nil || llm == nil {
		return nil, fmt.Errorf("answer service requires searcher and llm")
	}
	if topK <= 0 {
		topK = 5
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ANSWER] ", log.LstdFlags)
	}
	return &Service{search: search, llm: llm, topK: topK, logger: logger}, nil
}

// Stream retrieves grounding segments for the question and streams the
// answer. The returned channel closes after a terminal event (done or error).
func (s *Service) Stream(ctx context.Context, question string, filters retrieval.Filters) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		s.run(ctx, question, filters, events)
	}()
	return events
}

func (s *Service) run(ctx context.Context, question string, filters retrieval.Filters, events chan<- Event) {
	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if strings.TrimSpace(question) == "" {
		emit(Event{Type: EventError, Text: "question must not be empty"})
		return
	}

	if !emit(Event{Type: EventStatus, Text: "retrieving"}) {
		return
	}
	results, err := s.search.Search(ctx, question, s.topK, filters)
	if err != nil {
		s.logger.Printf("warn: retrieval for answer failed: %v", err)
		emit(Event{Type: EventError, Text: fmt.Sprintf("retrieval failed: %v", err)})
		return
	}
	for i := range results {
		r := results[i]
		if !emit(Event{Type: EventCitation, Citation: &r}) {
			return
		}
	}

	if !emit(Event{Type: EventStatus, Text: "generating"}) {
		return
	}
	prompt := buildPrompt(question, results)
	err = s.llm.CompleteStream(ctx, systemPrompt, prompt, func(token string) error {
		if !emit(Event{Type: EventToken, Text: token}) {
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		s.logger.Printf("warn: answer generation failed: %v", err)
		emit(Event{Type: EventError, Text: fmt.Sprintf("generation failed: %v", err)})
		return
	}
	emit(Event{Type: EventDone})
}

const systemPrompt = "You answer questions strictly from the provided context passages, citing them as [n]."

// buildPrompt renders the retrieved segments as numbered context blocks and
// instructs the model to cite them by number.
func buildPrompt(question string, results []retrieval.SearchResult) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the numbered context passages below. ")
	b.WriteString("Cite passages inline as [n]. If the context is insufficient, say so.\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s", i+1, r.Title)
		if r.SectionPath != "" {
			fmt.Fprintf(&b, " (%s)", r.SectionPath)
		}
		b.WriteString("\n")
		b.WriteString(r.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\nAnswer:")
	return b.String()
}
