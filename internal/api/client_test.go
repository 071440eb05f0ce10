package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"smartjar/internal/model"
)

func TestAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/users/auth" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json;charset=UTF-8" {
			t.Errorf("Content-Type = %q", ct)
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("X-Request-Id header missing")
		}

		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Fatalf("decode credentials: %v", err)
		}
		if creds["email"] != "anna@example.com" || creds["password"] != "secret" {
			t.Errorf("unexpected credentials %v", creds)
		}

		io.WriteString(w, `{
			"id": 7,
			"username": "Анна",
			"email": "anna@example.com",
			"spcSerialNumberList": ["SJ-001"],
			"courses": [{"id": 10, "medicine": "Аспирин", "spcSerialNumber": "SJ-001",
				"dateStarted": "2026-03-08", "dateFinished": "2026-03-12",
				"timetable": ["09:00"], "takeDurationSec": 600}],
			"spcOwners": [{"id": 8, "username": "Мама", "isDependent": true}]
		}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	user, err := client.Auth(context.Background(), "anna@example.com", "secret")
	if err != nil {
		t.Fatalf("Auth: %v", err)
	}
	if user.ID != 7 || user.Username != "Анна" {
		t.Errorf("user = %+v", user)
	}
	if len(user.Courses) != 1 || user.Courses[0].Spc != "SJ-001" {
		t.Errorf("courses = %+v", user.Courses)
	}
	if len(user.SpcOwners) != 1 || user.SpcOwners[0].Username != "Мама" {
		t.Errorf("wards = %+v", user.SpcOwners)
	}
}

func TestBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error": "неверный пароль"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.Auth(context.Background(), "anna@example.com", "wrong")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %v, want *api.Error", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Message != "неверный пароль" {
		t.Errorf("error = %+v", apiErr)
	}
}

func TestBackendErrorWithoutBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.RingSpc(context.Background(), "SJ-001")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %v, want *api.Error", err)
	}
	if apiErr.Message != http.StatusText(http.StatusInternalServerError) {
		t.Errorf("fallback message = %q", apiErr.Message)
	}
}

func TestAddCourse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/courses" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Course map[string]interface{} `json:"course"`
			UserID int64                  `json:"userId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.UserID != 7 {
			t.Errorf("userId = %d, want 7", body.UserID)
		}
		if body.Course["spcSerialNumber"] != "SJ-001" {
			t.Errorf("spcSerialNumber = %v", body.Course["spcSerialNumber"])
		}
		if _, present := body.Course["id"]; present {
			t.Error("zero course id must be omitted")
		}
		io.WriteString(w, "15")
	}))
	defer server.Close()

	client := NewClient(server.URL)
	courseID, err := client.AddCourse(context.Background(), 7, model.Course{
		Medicine:        "Аспирин",
		Spc:             "SJ-001",
		DateStarted:     "2026-03-08",
		DateFinished:    "2026-03-12",
		Timetable:       []string{"09:00"},
		TakeDurationSec: 600,
	})
	if err != nil {
		t.Fatalf("AddCourse: %v", err)
	}
	if courseID != 15 {
		t.Errorf("courseID = %d, want 15", courseID)
	}
}

func TestSpcQueryParams(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("serialNumber")
		io.WriteString(w, "true")
	}))
	defer server.Close()

	client := NewClient(server.URL)
	owned, err := client.SpcOwned(context.Background(), "SJ 001/а")
	if err != nil {
		t.Fatalf("SpcOwned: %v", err)
	}
	if !owned {
		t.Error("owned = false, want true")
	}
	if gotPath != "/spc/ownership" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "SJ 001/а" {
		t.Errorf("serialNumber survived escaping as %q", gotQuery)
	}
}

func TestDeleteCourseSendsNoBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/courses/15" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "" {
			t.Errorf("Content-Type = %q on bodiless request", ct)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if err := client.DeleteCourse(context.Background(), 15); err != nil {
		t.Fatalf("DeleteCourse: %v", err)
	}
}

func TestCourseTakes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/courses/10/statistics" {
			t.Errorf("path = %q", r.URL.Path)
		}
		io.WriteString(w, `[
			{"date": "2026-03-08T09:00:00", "taken": true, "status": 2},
			{"date": "2026-03-08T15:00:00", "taken": false, "status": 0}
		]`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	takes, err := client.CourseTakes(context.Background(), 10)
	if err != nil {
		t.Fatalf("CourseTakes: %v", err)
	}
	if len(takes) != 2 {
		t.Fatalf("got %d takes, want 2", len(takes))
	}
	if !takes[0].Taken || takes[0].Status != model.TakeOK {
		t.Errorf("takes[0] = %+v", takes[0])
	}
	if takes[1].Status != model.TakeWait {
		t.Errorf("takes[1] = %+v", takes[1])
	}
}
