package rag

import (
	"context"
	"strings"
	"unicode/utf8"

	"roomrag/internal/contextutil"
)

// StreamEventType identifies a streamed answer event.
type StreamEventType string

const (
	// EventSources carries the resolved sources; always the first event
	// on a stream that produces any content.
	EventSources StreamEventType = "sources"
	// EventChunk carries one answer fragment in order.
	EventChunk StreamEventType = "chunk"
	// EventDone terminates a successful stream with the full result.
	EventDone StreamEventType = "done"
	// EventError terminates a failed stream.
	EventError StreamEventType = "error"
)

// StreamEvent is one element on an AskStream channel. Exactly one terminal
// event (Done or Error) is emitted, after which the channel closes.
type StreamEvent struct {
	Type    StreamEventType
	Sources []Source
	Content string
	Result  *QueryResult
	Err     error
}

// AskStream answers a question with streamed output. The returned channel
// emits a Sources event before any chunk, then Chunk events in generation
// order, then one Done or Error event. Cancelling ctx stops generation and
// closes the channel.
func (s *Service) AskStream(ctx context.Context, roomID, orgID, question string, opts AskOptions) <-chan StreamEvent {
	events := make(chan StreamEvent, 16)

	go func() {
		defer close(events)
		logger := contextutil.LoggerFromContext(ctx)

		send := func(ev StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if utf8.RuneCountInString(strings.TrimSpace(question)) < 3 {
			send(StreamEvent{Type: EventError, Err: &ValidationError{Field: "question", Message: "must be at least 3 characters"}})
			return
		}

		retrieved, err := s.retrieve(ctx, roomID, orgID, question, opts)
		if err != nil {
			send(StreamEvent{Type: EventError, Err: err})
			return
		}

		if retrieved.empty() {
			// Nothing to cite and nothing to generate: a single Done
			// carries the fixed answer.
			send(StreamEvent{Type: EventDone, Result: &QueryResult{
				Answer:     noContextAnswer,
				Sources:    []Source{},
				Confidence: 0,
			}})
			return
		}

		sources, err := s.resolveSources(ctx, question, retrieved)
		if err != nil {
			send(StreamEvent{Type: EventError, Err: err})
			return
		}
		if !send(StreamEvent{Type: EventSources, Sources: sources}) {
			return
		}

		var answer strings.Builder
		streamErr := s.chat.StreamChatWithMessages(ctx, s.buildMessages(question, retrieved.contextBlock), s.chatParams(), func(chunk string) error {
			answer.WriteString(chunk)
			if !send(StreamEvent{Type: EventChunk, Content: chunk}) {
				return ctx.Err()
			}
			return nil
		})
		if streamErr != nil {
			logger.WarnContext(ctx, "answer stream failed", "room_id", roomID, "error", streamErr)
			send(StreamEvent{Type: EventError, Err: WrapError(streamErr, "failed to stream answer")})
			return
		}

		send(StreamEvent{Type: EventDone, Result: &QueryResult{
			Answer:     answer.String(),
			Sources:    sources,
			Confidence: retrieved.confidence,
		}})
	}()

	return events
}
