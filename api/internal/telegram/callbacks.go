package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"plant-debugger/api/internal/diagnose"
)

func (r *Router) handleCallback(cb tgbotapi.CallbackQuery) {
	cid := cb.Message.Chat.ID
	data := cb.Data
	_, _ = r.Bot.Request(tgbotapi.NewCallback(cb.ID, "")) // ack

	switch {
	case strings.HasPrefix(data, "ans:"):
		r.onAnswer(cid, cb.Message.MessageID, data)
	case data == "run_diagnose":
		r.removeKeyboard(cid, cb.Message.MessageID)
		r.runDiagnosis(cid)
	}
}

// onAnswer records one "ans:<qid>:yes|no|skip" callback and either asks the
// next open question or starts the diagnosis run.
func (r *Router) onAnswer(chatID int64, msgID int, data string) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 {
		return
	}
	qid, verdict := parts[1], parts[2]

	sess := r.session(chatID)
	qs := sess.Questions()
	if len(qs) == 0 {
		r.send(chatID, "The questions expired, send the photos again please.")
		return
	}

	sess.SetAnswer(diagnose.DiagnosticAnswer{
		QuestionID: qid,
		Answer:     verdict == "yes",
		Skipped:    verdict == "skip",
	})
	r.persist(sess)
	r.removeKeyboard(chatID, msgID)

	if next := nextUnanswered(qs, sess.Answers()); next != nil {
		r.askQuestion(chatID, *next)
		return
	}

	// Last answer recorded; run the pipeline right away. Typing a comment
	// afterwards invalidates the result and the Diagnose button re-runs it.
	r.runDiagnosis(chatID)
}

func nextUnanswered(qs []diagnose.DiagnosticQuestion, answers map[string]diagnose.DiagnosticAnswer) *diagnose.DiagnosticQuestion {
	for i := range qs {
		if _, ok := answers[qs[i].ID]; !ok {
			return &qs[i]
		}
	}
	return nil
}

func (r *Router) runDiagnosis(chatID int64) {
	sess := r.session(chatID)
	if len(sess.Images()) == 0 {
		r.send(chatID, "Send photos of your plant first.")
		return
	}
	r.send(chatID, "🔎 Consulting the experts, this can take a minute...")

	ctx, cancel := context.WithTimeout(context.Background(), runDeadline)
	defer cancel()

	result, err := r.Orch.Diagnose(ctx, sess)
	if err != nil {
		if diagnose.IsAborted(err) {
			return
		}
		if err == diagnose.ErrRunInProgress {
			r.send(chatID, "A diagnosis is already running for these photos, hold on.")
			return
		}
		r.sendError(chatID, err)
		return
	}
	r.persist(sess)
	r.sendDiagnosis(chatID, result)
}

func (r *Router) removeKeyboard(chatID int64, msgID int) {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, msgID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	_, _ = r.Bot.Send(edit)
}
