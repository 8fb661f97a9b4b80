package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"plant-debugger/api/internal/cost"
	"plant-debugger/api/internal/diagnose"
)

func answerKeyboard(qid string) tgbotapi.InlineKeyboardMarkup {
	yes := tgbotapi.NewInlineKeyboardButtonData("Yes", "ans:"+qid+":yes")
	no := tgbotapi.NewInlineKeyboardButtonData("No", "ans:"+qid+":no")
	skip := tgbotapi.NewInlineKeyboardButtonData("Skip", "ans:"+qid+":skip")
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(yes, no, skip))
}

func diagnoseKeyboard() tgbotapi.InlineKeyboardMarkup {
	btn := tgbotapi.NewInlineKeyboardButtonData("🔎 Diagnose", "run_diagnose")
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(btn))
}

func (r *Router) askQuestion(chatID int64, q diagnose.DiagnosticQuestion) {
	msg := tgbotapi.NewMessage(chatID, "❓ "+q.Question)
	msg.ReplyMarkup = answerKeyboard(q.ID)
	_, _ = r.Bot.Send(msg)
}

func (r *Router) sendDiagnoseButton(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, "Ready when you are.")
	msg.ReplyMarkup = diagnoseKeyboard()
	_, _ = r.Bot.Send(msg)
}

func (r *Router) sendDiagnosis(chatID int64, res *diagnose.DiagnosisResult) {
	var b strings.Builder
	b.WriteString("🌿 *")
	b.WriteString(esc(res.Plant))
	b.WriteString("*\n\n")
	writeCondition(&b, "Most likely", res.Primary)
	if res.Secondary != nil {
		b.WriteString("\n")
		writeCondition(&b, "Also possible", *res.Secondary)
	}
	if s := strings.TrimSpace(res.CareTips); s != "" {
		b.WriteString("\n💡 *Care tips*\n")
		b.WriteString(esc(s))
		b.WriteString("\n")
	}

	text := b.String()
	if len(text) > 3900 {
		text = text[:3900] + "…"
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	_, _ = r.Bot.Send(msg)
}

func writeCondition(b *strings.Builder, label string, c diagnose.Condition) {
	fmt.Fprintf(b, "*%s:* %s (%s confidence)\n", label, esc(c.Condition), c.Confidence)
	if s := strings.TrimSpace(c.Summary); s != "" {
		b.WriteString(esc(s))
		b.WriteString("\n")
	}
	if s := strings.TrimSpace(c.Treatment); s != "" {
		b.WriteString("🩹 ")
		b.WriteString(esc(s))
		b.WriteString("\n")
	}
	if s := strings.TrimSpace(c.Prevention); s != "" {
		b.WriteString("🛡 ")
		b.WriteString(esc(s))
		b.WriteString("\n")
	}
}

func formatUsage(s cost.Summary) string {
	if s.Calls == 0 {
		return "No model calls recorded yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Calls: %d\nPrompt tokens: %d\nOutput tokens: %d\nCost: $%.4f",
		s.Calls, s.PromptTokens, s.OutputTokens, s.CostUSD)
	return b.String()
}

// esc does light Markdown escaping for model-produced text.
func esc(s string) string {
	s = strings.ReplaceAll(s, "`", "'")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "[", "\\[")
	return s
}
