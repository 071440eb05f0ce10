package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"smartjar/internal/api"
	"smartjar/internal/model"
	"smartjar/internal/validation"
)

// CourseInput represents data required to create a course.
type CourseInput struct {
	UserID          int64    `validate:"required"`
	Medicine        string   `validate:"required"`
	Spc             string   `validate:"required"`
	DateStarted     string   `validate:"required,datetime=2006-01-02"`
	DateFinished    string   `validate:"required,datetime=2006-01-02"`
	Timetable       []string `validate:"required,min=1,unique,dive,datetime=15:04"`
	TakeDurationSec int      `validate:"required,min=1"`
}

// CourseService wraps course workflows against the backend.
type CourseService struct {
	api     *api.Client
	session *SessionService
}

func NewCourseService(apiClient *api.Client, session *SessionService) *CourseService {
	return &CourseService{api: apiClient, session: session}
}

// Create validates and saves a course, then re-establishes the chat's session
// so the reminder calendar picks up the new course.
func (s *CourseService) Create(ctx context.Context, chatID int64, input CourseInput) (int64, error) {
	if err := validation.Struct(input); err != nil {
		return 0, err
	}
	// ISO dates compare lexicographically.
	if input.DateFinished < input.DateStarted {
		return 0, fmt.Errorf("course ends before it starts")
	}

	courseID, err := s.api.AddCourse(ctx, input.UserID, model.Course{
		Medicine:        input.Medicine,
		Spc:             input.Spc,
		DateStarted:     input.DateStarted,
		DateFinished:    input.DateFinished,
		Timetable:       input.Timetable,
		TakeDurationSec: input.TakeDurationSec,
	})
	if err != nil {
		return 0, err
	}
	log.Printf("[info] course %d created for user %d", courseID, input.UserID)

	if _, err := s.session.Reestablish(ctx, chatID); err != nil {
		log.Printf("reestablish after course creation: %v", err)
	}
	return courseID, nil
}

// Delete removes the course and refreshes the snapshot. Reminders for the
// removed course keep firing until the next session resync, matching the
// mobile client's behavior.
func (s *CourseService) Delete(ctx context.Context, chatID int64, courseID int64) error {
	if err := s.api.DeleteCourse(ctx, courseID); err != nil {
		return err
	}
	log.Printf("[info] course %d deleted", courseID)

	if _, err := s.session.Refresh(ctx, chatID); err != nil && !errors.Is(err, ErrNoSession) {
		log.Printf("refresh after course deletion: %v", err)
	}
	return nil
}

// Takes fetches adherence statistics for a course.
func (s *CourseService) Takes(ctx context.Context, courseID int64) ([]model.Take, error) {
	return s.api.CourseTakes(ctx, courseID)
}
