package telegram

import (
	"sync"
	"time"
)

const (
	albumDebounce = 1200 * time.Millisecond
	maxTGImage    = 10 << 20
)

// photoBatch collects the photos of one album (or a quick burst in one chat)
// so the pipeline runs once over the complete set.
type photoBatch struct {
	ChatID       int64
	Key          string // "grp:<mediaGroupID>" | "chat:<chatID>"
	MediaGroupID string

	mu     sync.Mutex
	images [][]byte
	timer  *time.Timer
}

var batches sync.Map // key -> *photoBatch
