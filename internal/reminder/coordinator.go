package reminder

import (
	"context"
	"log"
	"sync"
	"time"

	"smartjar/internal/course"
	"smartjar/internal/model"
	"smartjar/internal/notify"
)

// Coordinator owns every reminder this process registers. All recompute
// triggers (session establishment, course creation, periodic resync) go
// through it, so the cancel-all-then-rebuild pass has a single owner per chat.
type Coordinator struct {
	newFacility func(chatID int64) notify.Facility

	mu         sync.Mutex
	facilities map[int64]notify.Facility
}

func NewCoordinator(newFacility func(chatID int64) notify.Facility) *Coordinator {
	return &Coordinator{
		newFacility: newFacility,
		facilities:  make(map[int64]notify.Facility),
	}
}

// Recompute drops every reminder for the chat, then rebuilds the full calendar
// from the snapshot: one reminder per remaining dose time of every active
// course of the root user and their wards. The same captured now is used for
// today's filtering and for the delay offsets. Best effort: facility failures
// are logged, nothing is propagated.
func (c *Coordinator) Recompute(ctx context.Context, chatID int64, root *model.User, now time.Time) {
	fac := c.facility(chatID)
	if err := fac.CancelAll(ctx); err != nil {
		log.Printf("cancel reminders for chat %d: %v", chatID, err)
	}
	if root == nil {
		return
	}

	total := 0
	for _, user := range root.All() {
		for _, crs := range user.Courses {
			status, err := course.StatusOf(crs, now)
			if err != nil {
				log.Printf("course %d (%s): %v", crs.ID, crs.Medicine, err)
				continue
			}
			if status != course.Active {
				continue
			}
			title := "Пользователю " + user.Username
			body := "Необходимо принять лекарство: " + crs.Medicine
			for _, fireAt := range FireTimes(crs, now) {
				if err := fac.ScheduleAfter(ctx, title, body, fireAt.Sub(now)); err != nil {
					log.Printf("schedule reminder for chat %d: %v", chatID, err)
					continue
				}
				total++
			}
		}
	}
	log.Printf("[info] chat %d: %d reminders scheduled", chatID, total)
}

// CancelAll drops the chat's reminders without rebuilding (logout).
func (c *Coordinator) CancelAll(ctx context.Context, chatID int64) {
	if err := c.facility(chatID).CancelAll(ctx); err != nil {
		log.Printf("cancel reminders for chat %d: %v", chatID, err)
	}
}

func (c *Coordinator) facility(chatID int64) notify.Facility {
	c.mu.Lock()
	defer c.mu.Unlock()
	fac, ok := c.facilities[chatID]
	if !ok {
		fac = c.newFacility(chatID)
		c.facilities[chatID] = fac
	}
	return fac
}
