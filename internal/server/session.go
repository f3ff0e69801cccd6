package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/newswire/config"
	"github.com/mohammad-safakhou/newswire/internal/moderation"
	"github.com/mohammad-safakhou/newswire/internal/rag"
	"github.com/mohammad-safakhou/newswire/internal/store"
)

// User-facing texts sent on the error path. Each maps to one rejection cause
// so clients can show them verbatim.
const (
	msgRateLimited = "You're asking questions too quickly. Please wait a moment and try again."
	msgEmptyInput  = "Please enter a question."
	msgTooLong     = "Question is too long. Please keep it under %d characters."
	msgNoContext   = "I couldn't find any recent news relevant to your question. Try asking about a different topic."
	msgUnavailable = "The service is temporarily unavailable. Please try again later."
	msgGenTimedOut = "The answer took too long to generate. Please try again."
)

// SessionState tracks where a session is in its question cycle.
type SessionState int

const (
	StateAwaiting SessionState = iota
	StateModerating
	StateRetrieving
	StateGenerating
	StateClosed
)

// Retriever yields ranked articles for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string) ([]store.SearchResult, error)
}

// Generator streams an answer grounded on the assembled context.
type Generator interface {
	Stream(ctx context.Context, system, user string, onChunk func(string) error) error
}

// wsConn is the slice of a websocket connection the session needs.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	SetReadDeadline(t time.Time) error
	Close() error
}

type inboundMsg struct {
	Question string `json:"question"`
}

type outboundMsg struct {
	Type    string         `json:"type"`
	Content string         `json:"content,omitempty"`
	Count   int            `json:"count,omitempty"`
	Sources []rag.Citation `json:"sources,omitempty"`
}

// Session serves one websocket client: read a question, validate, retrieve,
// stream the answer, repeat. All state is local to the goroutine running Run.
type Session struct {
	ID        string
	conn      wsConn
	retriever Retriever
	generator Generator
	gate      moderation.Gate
	maxCtx    int
	cfg       config.WebsocketConfig
	logger    *log.Logger

	state  SessionState
	window []time.Time
	now    func() time.Time
}

// NewSession builds a session for one accepted connection.
func NewSession(conn wsConn, retriever Retriever, generator Generator, gate moderation.Gate, maxContextChars int, cfg config.WebsocketConfig) *Session {
	id := uuid.NewString()
	return &Session{
		ID:        id,
		conn:      conn,
		retriever: retriever,
		generator: generator,
		gate:      gate,
		maxCtx:    maxContextChars,
		cfg:       cfg,
		logger:    log.New(log.Writer(), "[WS "+id[:8]+"] ", log.LstdFlags),
		state:     StateAwaiting,
		now:       time.Now,
	}
}

// Run drives the session until the client disconnects or goes idle past the
// session timeout. It always closes the connection before returning.
func (s *Session) Run(ctx context.Context) {
	defer func() {
		s.state = StateClosed
		_ = s.conn.Close()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		_ = s.conn.SetReadDeadline(s.now().Add(s.cfg.SessionTimeout))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Printf("session ended: %v", err)
			return
		}

		var in inboundMsg
		if err := json.Unmarshal(data, &in); err != nil {
			questionsTotal.WithLabelValues("invalid").Inc()
			if !s.send(outboundMsg{Type: "error", Content: msgEmptyInput}) {
				return
			}
			continue
		}
		if !s.handleQuestion(ctx, in.Question) {
			return
		}
		s.state = StateAwaiting
	}
}

// handleQuestion runs one full question cycle. The returned bool is false
// only when the connection is gone and the session must stop.
func (s *Session) handleQuestion(ctx context.Context, question string) bool {
	// rate limit comes before any inspection of the question
	if !s.allow() {
		questionsTotal.WithLabelValues("rate_limited").Inc()
		return s.send(outboundMsg{Type: "error", Content: msgRateLimited})
	}

	if question == "" {
		questionsTotal.WithLabelValues("invalid").Inc()
		return s.send(outboundMsg{Type: "error", Content: msgEmptyInput})
	}
	if len(question) > s.cfg.MaxQuestionChars {
		questionsTotal.WithLabelValues("invalid").Inc()
		return s.send(outboundMsg{Type: "error", Content: tooLongMsg(s.cfg.MaxQuestionChars)})
	}

	s.state = StateModerating
	if res := s.gate.Check(question); !res.OK {
		questionsTotal.WithLabelValues("moderated").Inc()
		return s.send(outboundMsg{Type: "error", Content: "Your " + res.Reason + "."})
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	s.state = StateRetrieving
	results, err := s.retriever.Retrieve(genCtx, question)
	if err != nil {
		if errors.Is(err, rag.ErrNoRelevantContext) {
			questionsTotal.WithLabelValues("no_context").Inc()
			return s.send(outboundMsg{Type: "error", Content: msgNoContext})
		}
		s.logger.Printf("retrieval failed: %v", err)
		questionsTotal.WithLabelValues("error").Inc()
		return s.send(outboundMsg{Type: "error", Content: msgUnavailable})
	}

	contextText, citations := rag.Assemble(results, s.maxCtx)
	if !s.send(outboundMsg{Type: "sources", Count: len(citations), Sources: citations}) {
		return false
	}

	s.state = StateGenerating
	system, user := rag.BuildPrompt(contextText, question)
	var connLost bool
	err = s.generator.Stream(genCtx, system, user, func(chunk string) error {
		if werr := s.conn.WriteJSON(outboundMsg{Type: "chunk", Content: chunk}); werr != nil {
			connLost = true
			return werr
		}
		chunksStreamed.Inc()
		return nil
	})
	if err != nil {
		if connLost {
			// client went away mid-answer; cancel propagated via genCtx
			s.logger.Printf("client disconnected during generation")
			questionsTotal.WithLabelValues("disconnected").Inc()
			return false
		}
		questionsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			return s.send(outboundMsg{Type: "error", Content: msgGenTimedOut})
		}
		s.logger.Printf("generation failed: %v", err)
		return s.send(outboundMsg{Type: "error", Content: msgUnavailable})
	}

	questionsTotal.WithLabelValues("answered").Inc()
	return s.send(outboundMsg{Type: "done"})
}

// allow applies the sliding-window rate limit and, when the question is
// admitted, records it against the window.
func (s *Session) allow() bool {
	now := s.now()
	cutoff := now.Add(-time.Minute)
	kept := s.window[:0]
	for _, t := range s.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.window = kept
	if len(s.window) >= s.cfg.MaxQuestionsPerMinute {
		return false
	}
	s.window = append(s.window, now)
	return true
}

func (s *Session) send(msg outboundMsg) bool {
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Printf("write failed: %v", err)
		return false
	}
	return true
}

func tooLongMsg(max int) string {
	return fmt.Sprintf(msgTooLong, max)
}
