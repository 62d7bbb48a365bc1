package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ecobiomax/normaIA/internal/llm"
	"github.com/ecobiomax/normaIA/internal/store"
)

// FallbackAnswer is returned whenever an answer cannot be produced.
const FallbackAnswer = "Desculpe, estou com dificuldade para processar sua pergunta no momento. Por favor, tente novamente."

const (
	MaxAnswerTokens   = 1000
	AnswerTemperature = 0.3

	noContext = "(nenhum trecho relevante foi encontrado nas normas disponíveis)"
)

const systemInstruction = `Você é um assistente especializado em normas técnicas e regulamentações brasileiras.
Use o contexto fornecido para responder às perguntas do usuário de forma precisa e citando as fontes.

Regras:
- Responda sempre em %s
- Baseie suas respostas apenas no contexto fornecido
- Se não houver informação suficiente no contexto, informe que não encontrou a resposta nas normas disponíveis
- Cite sempre as fontes (nome do arquivo e seção) quando usar informações do contexto
- Seja objetivo e claro nas respostas`

// HistoryRecorder persists one chat turn.
type HistoryRecorder interface {
	SaveChatRecord(ctx context.Context, rec store.ChatRecord) (store.ChatRecord, error)
}

// Answer is what the user sees for one question.
type Answer struct {
	Text     string
	Sources  []store.Source
	Fallback bool
}

// Composer turns retrieved chunks into a grounded answer and records the turn.
type Composer struct {
	log       *slog.Logger
	completer llm.Completer
	history   HistoryRecorder
	language  string
	timeout   time.Duration
}

func NewComposer(log *slog.Logger, completer llm.Completer, history HistoryRecorder, language string, timeout time.Duration) *Composer {
	if language == "" {
		language = "português brasileiro"
	}
	return &Composer{log: log, completer: completer, history: history, language: language, timeout: timeout}
}

// BuildContext renders retrieved chunks as "Source: <filename> (<section>)\n<text>"
// blocks separated by blank lines.
func BuildContext(retrieved []QueryResult) string {
	blocks := make([]string, len(retrieved))
	for i, r := range retrieved {
		blocks[i] = fmt.Sprintf("Source: %s (%s)\n%s", r.Filename, r.Section, r.Text)
	}
	return strings.Join(blocks, "\n\n")
}

// BuildPrompts returns the system and user prompts for a question. Both are
// pure functions of their inputs.
func BuildPrompts(language, question string, retrieved []QueryResult) (system, user string) {
	passages := BuildContext(retrieved)
	if passages == "" {
		passages = noContext
	}
	var b strings.Builder
	fmt.Fprintf(&b, systemInstruction, language)
	b.WriteString("\n\nContexto relevante:\n")
	b.WriteString(passages)
	b.WriteString("\n\nPergunta do usuário: ")
	b.WriteString(question)
	return b.String(), question
}

// Answer asks the completion provider and records the turn. Provider
// failures become the fallback answer and are never returned.
func (c *Composer) Answer(ctx context.Context, userID, question string, retrieved []QueryResult) Answer {
	system, user := BuildPrompts(c.language, question, retrieved)

	callCtx, cancel := withTimeout(ctx, c.timeout)
	text, err := c.completer.Complete(callCtx, system, user, MaxAnswerTokens, AnswerTemperature)
	cancel()
	if err == nil && strings.TrimSpace(text) == "" {
		err = &llm.ProviderError{Provider: "completion", Err: fmt.Errorf("empty answer")}
	}
	if err != nil {
		return c.Fallback(ctx, userID, question, err)
	}

	sources := make([]store.Source, len(retrieved))
	for i, r := range retrieved {
		sources[i] = store.Source{Filename: r.Filename, Section: r.Section, Score: r.Score}
	}
	ans := Answer{Text: text, Sources: sources}
	c.record(ctx, userID, question, ans)
	return ans
}

// Fallback records and returns the canned answer with no sources.
func (c *Composer) Fallback(ctx context.Context, userID, question string, cause error) Answer {
	c.log.Warn("answering with fallback", "user_id", userID, "err", cause)
	ans := Answer{Text: FallbackAnswer, Sources: []store.Source{}, Fallback: true}
	c.record(ctx, userID, question, ans)
	return ans
}

func (c *Composer) record(ctx context.Context, userID, question string, ans Answer) {
	// The turn is kept even when the caller has gone away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_, err := c.history.SaveChatRecord(ctx, store.ChatRecord{
		UserID:   userID,
		Question: question,
		Answer:   ans.Text,
		Sources:  ans.Sources,
	})
	if err != nil {
		c.log.Error("failed to record chat turn", "user_id", userID, "err", err)
	}
}
