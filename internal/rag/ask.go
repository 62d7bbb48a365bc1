package rag

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ecobiomax/normaIA/internal/access"
	"github.com/ecobiomax/normaIA/internal/store"
)

// DefaultHistoryLimit caps History when the caller passes no limit.
const DefaultHistoryLimit = 50

// ChatHistory reads and writes chat turns.
type ChatHistory interface {
	HistoryRecorder
	ListChatRecords(ctx context.Context, userID string, limit int) ([]store.ChatRecord, error)
}

// AskResult is the response to one question.
type AskResult struct {
	Answer  string         `json:"answer"`
	Sources []store.Source `json:"sources"`
}

// Asker runs the question path: gate, retrieve, compose, record.
type Asker struct {
	log       *slog.Logger
	gate      access.Gate
	retriever *Retriever
	composer  *Composer
	history   ChatHistory
	topK      int
}

func NewAsker(log *slog.Logger, gate access.Gate, retriever *Retriever, composer *Composer, history ChatHistory, topK int) *Asker {
	return &Asker{log: log, gate: gate, retriever: retriever, composer: composer, history: history, topK: topK}
}

// Ask answers a question. The only errors are ErrEmptyQuestion and
// *AccessDeniedError; every other failure yields the fallback answer.
func (a *Asker) Ask(ctx context.Context, userID, question string) (AskResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return AskResult{}, ErrEmptyQuestion
	}
	if d := a.gate.CheckAccess(ctx, userID); !d.Granted {
		return AskResult{}, &AccessDeniedError{UserID: userID, Reason: d.Reason}
	}

	var ans Answer
	retrieved, err := a.retriever.Retrieve(ctx, question, a.topK)
	if err != nil {
		ans = a.composer.Fallback(ctx, userID, question, err)
	} else {
		ans = a.composer.Answer(ctx, userID, question, retrieved)
	}

	a.log.Info("question answered", "user_id", userID, "sources", len(ans.Sources), "fallback", ans.Fallback)
	return AskResult{Answer: ans.Text, Sources: ans.Sources}, nil
}

// History returns the user's most recent turns, newest first.
func (a *Asker) History(ctx context.Context, userID string, limit int) ([]store.ChatRecord, error) {
	if d := a.gate.CheckAccess(ctx, userID); !d.Granted {
		return nil, &AccessDeniedError{UserID: userID, Reason: d.Reason}
	}
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	return a.history.ListChatRecords(ctx, userID, limit)
}
