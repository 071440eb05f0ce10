package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeSender struct {
	sent chan tgbotapi.MessageConfig
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(chan tgbotapi.MessageConfig, 8)}
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.sent <- msg
	}
	return tgbotapi.Message{}, nil
}

func TestScheduleAfterFires(t *testing.T) {
	sender := newFakeSender()
	fac := NewTelegramFacility(sender, 42)

	if err := fac.ScheduleAfter(context.Background(), "Пользователю Анна", "Необходимо принять лекарство: <Аспирин>", 0); err != nil {
		t.Fatalf("ScheduleAfter: %v", err)
	}

	select {
	case msg := <-sender.sent:
		if msg.ChatID != 42 {
			t.Errorf("ChatID = %d, want 42", msg.ChatID)
		}
		if msg.ParseMode != tgbotapi.ModeHTML {
			t.Errorf("ParseMode = %q, want HTML", msg.ParseMode)
		}
		if !strings.Contains(msg.Text, "🔔") || !strings.Contains(msg.Text, "Пользователю Анна") {
			t.Errorf("unexpected text %q", msg.Text)
		}
		if strings.Contains(msg.Text, "<Аспирин>") {
			t.Errorf("body was not HTML-escaped: %q", msg.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reminder never fired")
	}

	deadline := time.Now().Add(time.Second)
	for fac.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Pending() = %d after fire, want 0", fac.Pending())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNegativeDelayFiresImmediately(t *testing.T) {
	sender := newFakeSender()
	fac := NewTelegramFacility(sender, 42)

	if err := fac.ScheduleAfter(context.Background(), "t", "b", -time.Hour); err != nil {
		t.Fatalf("ScheduleAfter: %v", err)
	}

	select {
	case <-sender.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("reminder with negative delay never fired")
	}
}

func TestCancelAll(t *testing.T) {
	sender := newFakeSender()
	fac := NewTelegramFacility(sender, 42)

	for i := 0; i < 3; i++ {
		if err := fac.ScheduleAfter(context.Background(), "t", "b", time.Hour); err != nil {
			t.Fatalf("ScheduleAfter: %v", err)
		}
	}
	if fac.Pending() != 3 {
		t.Fatalf("Pending() = %d, want 3", fac.Pending())
	}

	if err := fac.CancelAll(context.Background()); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	if fac.Pending() != 0 {
		t.Errorf("Pending() = %d after CancelAll, want 0", fac.Pending())
	}

	select {
	case <-sender.sent:
		t.Error("cancelled reminder still fired")
	case <-time.After(100 * time.Millisecond):
	}
}
