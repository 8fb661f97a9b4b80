package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"plant-debugger/api/internal/cost"
	"plant-debugger/api/internal/diagnose"
	"plant-debugger/api/internal/store"
)

const runDeadline = 180 * time.Second

// Router dispatches Telegram updates onto the diagnosis pipeline. One chat
// maps to one session, keyed "tg:<chatID>".
type Router struct {
	Bot      *tgbotapi.BotAPI
	Orch     *diagnose.Orchestrator
	Sessions *diagnose.Manager
	Costs    *cost.Tracker
	Repo     *store.SessionRepo // nil means memory-only
	Log      *zap.Logger
}

func sessionKey(chatID int64) string {
	return fmt.Sprintf("tg:%d", chatID)
}

func (r *Router) session(chatID int64) *diagnose.Session {
	id := sessionKey(chatID)
	if _, ok := r.Sessions.Get(id); !ok && r.Repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if st, err := r.Repo.Load(ctx, id, 0); err == nil {
			r.Sessions.Put(diagnose.RestoreSession(*st))
		}
	}
	return r.Sessions.GetOrCreate(id, id)
}

func (r *Router) persist(sess *diagnose.Session) {
	if r.Repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Repo.Save(ctx, sess.Snapshot()); err != nil {
		r.Log.Warn("session save failed", zap.String("session", sess.ID), zap.Error(err))
	}
}

func (r *Router) HandleUpdate(upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		r.handleCallback(*upd.CallbackQuery)
		return
	}
	if upd.Message == nil {
		return
	}
	cid := upd.Message.Chat.ID

	if upd.Message.IsCommand() {
		r.handleCommand(upd)
		return
	}

	if len(upd.Message.Photo) > 0 {
		r.acceptPhoto(*upd.Message)
		return
	}

	// Plain text after the questions is taken as the free-form comment for the
	// final diagnosis.
	if text := strings.TrimSpace(upd.Message.Text); text != "" {
		sess := r.session(cid)
		if len(sess.Images()) == 0 {
			r.send(cid, "Send photos of your plant first and I'll take a look.")
			return
		}
		sess.SetComment(text)
		r.persist(sess)
		r.send(cid, "Noted. I'll factor that in. Tap Diagnose when you're ready.")
		r.sendDiagnoseButton(cid)
	}
}

func (r *Router) handleCommand(upd tgbotapi.Update) {
	cid := upd.Message.Chat.ID
	switch upd.Message.Command() {
	case "start":
		r.send(cid, "Send photos of your plant and I'll identify it, ask a few questions, and diagnose what's wrong.\nCommands: /reset, /usage, /health")
	case "health":
		r.send(cid, "✅ OK")
	case "reset":
		id := sessionKey(cid)
		r.Sessions.Delete(id)
		if r.Repo != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = r.Repo.Clear(ctx, id)
		}
		r.send(cid, "Session cleared. Send new photos to start over.")
	case "usage":
		r.send(cid, formatUsage(r.Costs.Totals(sessionKey(cid))))
	default:
		r.send(cid, "Unknown command")
	}
}

func (r *Router) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	_, _ = r.Bot.Send(msg)
}

func (r *Router) sendError(chatID int64, err error) {
	if diagnose.IsAborted(err) {
		return
	}
	r.Log.Warn("telegram pipeline error", zap.Int64("chat", chatID), zap.Error(err))
	r.send(chatID, fmt.Sprintf("Something went wrong: %v", err))
}
