package notify

import (
	"context"
	"fmt"
	"html"
	"log"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the slice of the Telegram API the facility needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramFacility delivers reminders as messages to a single chat. Pending
// reminders live only in memory; a process restart clears them, the next
// session resync rebuilds them.
type TelegramFacility struct {
	sender Sender
	chatID int64

	mu     sync.Mutex
	nextID int
	timers map[int]*time.Timer
}

func NewTelegramFacility(sender Sender, chatID int64) *TelegramFacility {
	return &TelegramFacility{
		sender: sender,
		chatID: chatID,
		timers: make(map[int]*time.Timer),
	}
}

func (f *TelegramFacility) ScheduleAfter(ctx context.Context, title, body string, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.timers[id] = time.AfterFunc(delay, func() {
		f.mu.Lock()
		delete(f.timers, id)
		f.mu.Unlock()

		text := fmt.Sprintf("🔔 <b>%s</b>\n%s", html.EscapeString(title), html.EscapeString(body))
		msg := tgbotapi.NewMessage(f.chatID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		if _, err := f.sender.Send(msg); err != nil {
			log.Printf("send reminder to chat %d: %v", f.chatID, err)
		}
	})
	return nil
}

func (f *TelegramFacility) CancelAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, timer := range f.timers {
		timer.Stop()
		delete(f.timers, id)
	}
	return nil
}

// Pending reports the number of reminders that have not fired yet.
func (f *TelegramFacility) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}
