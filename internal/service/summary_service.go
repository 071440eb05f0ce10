package service

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"smartjar/internal/course"
	"smartjar/internal/model"
)

// SummaryService builds human-readable dose summaries for the bot.
type SummaryService struct{}

func NewSummaryService() *SummaryService {
	return &SummaryService{}
}

// DailySummary lists today's remaining doses for every family member,
// soonest first.
func (s *SummaryService) DailySummary(root *model.User, now time.Time) string {
	var builder strings.Builder
	builder.WriteString("💊 <b>Приёмы на сегодня</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n", now.Format("02.01.2006")))

	wall := now.Format(model.TimeLayout)
	for _, user := range root.All() {
		type dose struct {
			at       string
			medicine string
		}
		var doses []dose
		for _, crs := range user.Courses {
			status, err := course.StatusOf(crs, now)
			if err != nil || status != course.Active {
				continue
			}
			for _, tt := range crs.Timetable {
				if tt >= wall {
					doses = append(doses, dose{at: tt, medicine: crs.Medicine})
				}
			}
		}

		builder.WriteString(fmt.Sprintf("\n👤 <b>%s</b>\n", html.EscapeString(user.Username)))
		if len(doses) == 0 {
			builder.WriteString("— на сегодня приёмов больше нет\n")
			continue
		}
		sort.SliceStable(doses, func(i, j int) bool { return doses[i].at < doses[j].at })
		for _, d := range doses {
			builder.WriteString(fmt.Sprintf("• %s — %s\n", d.at, html.EscapeString(d.medicine)))
		}
	}

	return strings.TrimSpace(builder.String())
}
