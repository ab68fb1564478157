// Package maxbot is the MAX messenger front end: a long-polling loop that
// dispatches chat events, answers recognized commands with canned replies,
// and routes every other message through semantic search. Users never see
// raw errors; failures collapse into a generic try-later reply.
package maxbot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/AlmaAI/alma-mvp/engine/domain"
	"github.com/AlmaAI/alma-mvp/engine/search"
	"github.com/AlmaAI/alma-mvp/pkg/fn"
	"github.com/AlmaAI/alma-mvp/pkg/maxapi"
	"github.com/AlmaAI/alma-mvp/pkg/resilience"
	"github.com/AlmaAI/alma-mvp/pkg/textnorm"
)

// Fixed retrieval bounds for chat questions: the top answer of five
// candidates at a conservative threshold.
const (
	SearchLimit     = 5
	SearchThreshold = 0.5
)

// Sender is the outbound half of the chat transport.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, msg maxapi.OutgoingMessage) (maxapi.Message, error)
	EditMessage(ctx context.Context, messageID string, msg maxapi.OutgoingMessage) error
}

// Searcher answers free-form questions.
type Searcher interface {
	Search(ctx context.Context, q domain.SearchQuery) ([]search.Match, error)
}

// Handler turns inbound chat events into replies.
type Handler struct {
	sender Sender
	search Searcher
	log    *slog.Logger
	met    Metrics
}

// NewHandler wires a handler. met fields may be nil.
func NewHandler(sender Sender, searcher Searcher, log *slog.Logger, met Metrics) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{sender: sender, search: searcher, log: log, met: met}
}

// HandleBotStarted greets a user who just opened the chat.
func (h *Handler) HandleBotStarted(ctx context.Context, chatID int64) {
	h.reply(ctx, chatID, startText)
}

// HandleMessage routes one inbound message: recognized commands get canned
// replies, anything else is treated as a question. Duplicate deliveries are
// tolerated; answering twice is harmless.
func (h *Handler) HandleMessage(ctx context.Context, msg maxapi.Message) {
	text := strings.TrimSpace(msg.Body.Text)
	chatID := msg.Recipient.ChatID
	if text == "" || msg.Sender.IsBot {
		return
	}

	if cmd, ok := textnorm.ParseCommand(text); ok {
		if reply, known := commandReplies[cmd.Name]; known {
			inc(h.met.Commands)
			h.log.Info("bot: command", "command", cmd.Name, "chat_id", chatID)
			h.reply(ctx, chatID, reply)
			return
		}
	}

	h.handleQuestion(ctx, chatID, text)
}

func (h *Handler) handleQuestion(ctx context.Context, chatID int64, text string) {
	inc(h.met.Questions)
	h.log.Info("bot: question", "chat_id", chatID, "len", len(text))

	// Placeholder goes out first so the user sees progress; the real reply
	// arrives as an edit.
	thinking, err := h.sender.SendMessage(ctx, chatID, maxapi.OutgoingMessage{Text: thinkingText})
	if err != nil {
		inc(h.met.SendFailures)
		h.log.Error("bot: send placeholder", "chat_id", chatID, "error", err)
	}

	query := domain.SearchQuery{Text: text, Limit: SearchLimit, Threshold: SearchThreshold}
	matches, err := h.search.Search(ctx, query)

	var out maxapi.OutgoingMessage
	switch {
	case err != nil:
		h.log.Error("bot: search failed", "chat_id", chatID, "error", err)
		out = maxapi.OutgoingMessage{Text: tryLaterText, Notify: true}
	case len(matches) == 0:
		h.log.Warn("bot: no answer", "chat_id", chatID, "question", text)
		out = maxapi.OutgoingMessage{Text: noMatchText, Notify: true}
	default:
		out = maxapi.OutgoingMessage{Text: answerPrefix + matches[0].Answer, Notify: true, Format: "markdown"}
	}

	h.deliver(ctx, chatID, thinking.Body.Mid, out)
}

// deliver edits the placeholder when one exists, falling back to a fresh
// message when the edit fails or nothing was sent.
func (h *Handler) deliver(ctx context.Context, chatID int64, mid string, out maxapi.OutgoingMessage) {
	if mid != "" {
		err := h.sender.EditMessage(ctx, mid, out)
		if err == nil {
			return
		}
		h.log.Warn("bot: edit failed, sending anew", "chat_id", chatID, "error", err)
	}
	if _, err := h.sender.SendMessage(ctx, chatID, out); err != nil {
		inc(h.met.SendFailures)
		h.log.Error("bot: send reply", "chat_id", chatID, "error", err)
	}
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	if _, err := h.sender.SendMessage(ctx, chatID, maxapi.OutgoingMessage{Text: text, Notify: true}); err != nil {
		inc(h.met.SendFailures)
		h.log.Error("bot: send reply", "chat_id", chatID, "error", err)
	}
}

type guardedSearcher struct {
	inner   Searcher
	breaker *resilience.Breaker
}

// GuardSearcher wraps s with a circuit breaker so a struggling backend
// sheds question load quickly instead of timing out per message.
func GuardSearcher(s Searcher, b *resilience.Breaker) Searcher {
	return guardedSearcher{inner: s, breaker: b}
}

func (g guardedSearcher) Search(ctx context.Context, q domain.SearchQuery) ([]search.Match, error) {
	result := resilience.CallResult(g.breaker, ctx, func(ctx context.Context) fn.Result[[]search.Match] {
		return fn.FromPair(g.inner.Search(ctx, q))
	})
	return result.Unwrap()
}
