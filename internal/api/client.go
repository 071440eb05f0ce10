package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"smartjar/internal/model"
)

const requestTimeout = 15 * time.Second

// Error is a failure reported by the backend.
type Error struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend: %s (HTTP %d)", e.Message, e.Status)
}

// Client talks to the Smart Jar backend. The backend owns all durable state;
// every method is a thin wrapper over one endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// RegistrationRequest creates an account; dependent accounts manage their own
// dispensers.
type RegistrationRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	IsDependent bool   `json:"isDependent"`
}

// Register creates an account and returns the new user id.
func (c *Client) Register(ctx context.Context, req RegistrationRequest) (int64, error) {
	var resp struct {
		UserID int64 `json:"userId"`
	}
	if err := c.do(ctx, http.MethodPost, "/users/registration", req, &resp); err != nil {
		return 0, err
	}
	return resp.UserID, nil
}

// Auth exchanges credentials for the full user snapshot, wards included.
func (c *Client) Auth(ctx context.Context, email, password string) (*model.User, error) {
	body := map[string]string{"email": email, "password": password}
	var user model.User
	if err := c.do(ctx, http.MethodPost, "/users/auth", body, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// PasswordRecoveryCode asks the backend to email a recovery code and returns
// it for local confirmation.
func (c *Client) PasswordRecoveryCode(ctx context.Context, email string) (string, error) {
	var resp struct {
		Code string `json:"code"`
	}
	if err := c.do(ctx, http.MethodPost, "/users/passwordRecovery", map[string]string{"email": email}, &resp); err != nil {
		return "", err
	}
	return resp.Code, nil
}

// ChangePassword sets a new password for the account.
func (c *Client) ChangePassword(ctx context.Context, email, password string) error {
	body := map[string]string{"email": email, "password": password}
	return c.do(ctx, http.MethodPut, "/users/passwordChange", body, nil)
}

// ChangeUsername updates the display name.
func (c *Client) ChangeUsername(ctx context.Context, userID int64, name string) error {
	path := fmt.Sprintf("/users/%d/nameUpdate", userID)
	return c.do(ctx, http.MethodPut, path, map[string]string{"name": name}, nil)
}

// ChangeDependency toggles whether the account manages its own dispensers.
func (c *Client) ChangeDependency(ctx context.Context, userID int64, isDependent bool) error {
	path := fmt.Sprintf("/users/%d/dependencyUpdate", userID)
	return c.do(ctx, http.MethodPut, path, map[string]bool{"isDependent": isDependent}, nil)
}

// GetUser fetches the current snapshot of an account.
func (c *Client) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	var user model.User
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%d", userID), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// AssociateUsers links a caretaker with a ward.
func (c *Client) AssociateUsers(ctx context.Context, caretakerID, spcOwnerID int64) error {
	body := map[string]int64{"caretakerId": caretakerID, "spcOwnerId": spcOwnerID}
	return c.do(ctx, http.MethodPost, "/monitoring", body, nil)
}

// MonitoringInvite is the backend's answer to a supervision invitation: the
// confirmation code it emailed and who received it.
type MonitoringInvite struct {
	Code           string `json:"code"`
	AddresseeEmail string `json:"addresseeEmail"`
	AddresseeName  string `json:"addresseeName"`
	SpcOwnerID     int64  `json:"spcOwnerId"`
}

// InviteWard asks the backend to email a supervision invitation.
func (c *Client) InviteWard(ctx context.Context, email string) (*MonitoringInvite, error) {
	var invite MonitoringInvite
	if err := c.do(ctx, http.MethodPost, "/monitoring/notification", map[string]string{"email": email}, &invite); err != nil {
		return nil, err
	}
	return &invite, nil
}

// AddCourse saves a course for the user and returns the course id.
func (c *Client) AddCourse(ctx context.Context, userID int64, crs model.Course) (int64, error) {
	body := struct {
		Course model.Course `json:"course"`
		UserID int64        `json:"userId"`
	}{Course: crs, UserID: userID}

	var courseID int64
	if err := c.do(ctx, http.MethodPost, "/courses", body, &courseID); err != nil {
		return 0, err
	}
	return courseID, nil
}

// DeleteCourse removes a course.
func (c *Client) DeleteCourse(ctx context.Context, courseID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/courses/%d", courseID), nil, nil)
}

// CourseTakes fetches the adherence statistics of a course.
func (c *Client) CourseTakes(ctx context.Context, courseID int64) ([]model.Take, error) {
	var takes []model.Take
	path := fmt.Sprintf("/courses/%d/statistics", courseID)
	if err := c.do(ctx, http.MethodGet, path, nil, &takes); err != nil {
		return nil, err
	}
	return takes, nil
}

// BindSpc attaches a dispenser to a user.
func (c *Client) BindSpc(ctx context.Context, serial string, userID int64) error {
	path := "/spc/spcOwnerUpdate?serialNumber=" + url.QueryEscape(serial)
	return c.do(ctx, http.MethodPut, path, map[string]int64{"userId": userID}, nil)
}

// SpcOwned reports whether the dispenser is already bound to an account.
func (c *Client) SpcOwned(ctx context.Context, serial string) (bool, error) {
	var owned bool
	path := "/spc/ownership?serialNumber=" + url.QueryEscape(serial)
	if err := c.do(ctx, http.MethodGet, path, nil, &owned); err != nil {
		return false, err
	}
	return owned, nil
}

// UnbindSpc releases a dispenser from its owner.
func (c *Client) UnbindSpc(ctx context.Context, serial string) error {
	path := "/spc/spcOwnerClean?serialNumber=" + url.QueryEscape(serial)
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

// RingSpc triggers the dispenser's locator signal.
func (c *Client) RingSpc(ctx context.Context, serial string) error {
	path := "/spc/connectionTest?serialNumber=" + url.QueryEscape(serial)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	}
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &Error{Status: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
