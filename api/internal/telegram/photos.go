package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"plant-debugger/api/internal/diagnose"
	"plant-debugger/api/internal/util"
)

func (r *Router) acceptPhoto(msg tgbotapi.Message) {
	cid := msg.Chat.ID
	ph := msg.Photo[len(msg.Photo)-1]
	file, err := r.Bot.GetFile(tgbotapi.FileConfig{FileID: ph.FileID})
	if err != nil {
		r.sendError(cid, err)
		return
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", r.Bot.Token, file.FilePath)
	data, err := download(url)
	if err != nil {
		r.sendError(cid, err)
		return
	}
	if len(data) > maxTGImage {
		r.send(cid, "That photo is too large, please send a smaller one.")
		return
	}

	key := "chat:" + fmt.Sprint(cid)
	if msg.MediaGroupID != "" {
		key = "grp:" + msg.MediaGroupID
	}

	bi, _ := batches.LoadOrStore(key, &photoBatch{
		ChatID: cid, Key: key, MediaGroupID: msg.MediaGroupID, images: make([][]byte, 0, 4),
	})
	b := bi.(*photoBatch)

	b.mu.Lock()
	b.images = append(b.images, data)
	first := len(b.images) == 1
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(albumDebounce, func() { r.processBatch(key) })
	b.mu.Unlock()

	if first {
		r.send(cid, "Got it. If you have more photos of the plant, send them now, I'll look at them together.")
	}
}

// processBatch runs the identification step over the collected photos and
// either reports that no plant was found or asks the first clarifying
// question.
func (r *Router) processBatch(key string) {
	bi, ok := batches.Load(key)
	if !ok {
		return
	}
	b := bi.(*photoBatch)

	b.mu.Lock()
	raw := append([][]byte(nil), b.images...)
	chatID := b.ChatID
	batches.Delete(key)
	b.mu.Unlock()

	if len(raw) == 0 {
		return
	}

	images := make([]diagnose.Image, 0, len(raw))
	for _, data := range raw {
		images = append(images, diagnose.Image{
			ID:   util.ShortHash(data),
			MIME: util.PickMIME("", "", data),
			Size: int64(len(data)),
			Data: data,
		})
	}

	sess := r.session(chatID)
	r.Orch.ReplaceImages(sess, images)

	ctx, cancel := context.WithTimeout(context.Background(), runDeadline)
	defer cancel()

	id, err := r.Orch.Identify(ctx, sess)
	if err != nil {
		r.sendError(chatID, err)
		return
	}

	if id.Name == "" {
		msg, err := r.Orch.NoPlantMessage(ctx, sess)
		if err != nil {
			r.sendError(chatID, err)
			return
		}
		r.persist(sess)
		r.send(chatID, msg)
		return
	}

	r.send(chatID, "🌱 Looks like: "+id.Name)

	qs, err := r.Orch.GenerateQuestions(ctx, sess)
	if err != nil {
		r.sendError(chatID, err)
		return
	}
	r.persist(sess)

	r.send(chatID, fmt.Sprintf("A few quick questions (%d) to narrow things down. You can also type extra details at any point.", len(qs)))
	r.askQuestion(chatID, qs[0])
}

func download(url string) ([]byte, error) {
	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxTGImage+1))
}
