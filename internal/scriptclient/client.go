// Package scriptclient talks to the script API over HTTP on behalf of one
// user. It implements editsession.Backend.
package scriptclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"script-desk/internal/domain"
	"strings"
	"time"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// APIError is a non 2xx answer that maps to no domain error.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("script api error: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
}

type errorBody struct {
	Code    string          `json:"code"`
	Message string          `json:"error"`
	Details json.RawMessage `json:"details"`
}

type lockedDetails struct {
	Holder     string    `json:"holder"`
	HolderName string    `json:"holder_name"`
	HeldBySelf bool      `json:"held_by_self"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func scriptPath(scope domain.Scope) string {
	switch scope.Type() {
	case domain.ScopePiece:
		return fmt.Sprintf("/api/pieces/%d/script", scope.ID())
	default:
		return fmt.Sprintf("/api/stories/%d/script", scope.ID())
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeError(resp.StatusCode, b)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError turns the server's error body back into domain errors where
// one exists.
func decodeError(status int, b []byte) error {
	var payload errorBody
	_ = json.Unmarshal(b, &payload)
	if payload.Message == "" {
		payload.Message = strings.TrimSpace(string(b))
	}

	switch {
	case status == http.StatusLocked:
		var d lockedDetails
		_ = json.Unmarshal(payload.Details, &d)
		return &domain.LockedError{
			Holder:     d.Holder,
			HolderName: d.HolderName,
			HeldBySelf: d.HeldBySelf,
			ExpiresAt:  d.ExpiresAt,
		}
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", payload.Message, domain.ErrNotFound)
	case status == http.StatusConflict && payload.Code == "LEASE_LOST":
		return fmt.Errorf("%s: %w", payload.Message, domain.ErrLeaseLost)
	case status == http.StatusConflict && payload.Code == "COMMIT_CONFLICT":
		return fmt.Errorf("%s: %w", payload.Message, domain.ErrCommitConflict)
	}
	return &APIError{Status: status, Code: payload.Code, Message: payload.Message}
}

func (c *Client) GetCurrent(ctx context.Context, scope domain.Scope) (*domain.Draft, error) {
	var draft domain.Draft
	if err := c.do(ctx, http.MethodGet, scriptPath(scope), nil, &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

type acquireRequest struct {
	Session string `json:"session"`
	Reclaim bool   `json:"reclaim"`
	Renew   bool   `json:"renew"`
}

func (c *Client) AcquireLease(ctx context.Context, scope domain.Scope, session string, reclaim bool) (*domain.Lease, error) {
	var l domain.Lease
	err := c.do(ctx, http.MethodPost, scriptPath(scope)+"/lease", acquireRequest{
		Session: session,
		Reclaim: reclaim,
	}, &l)
	if err != nil {
		return nil, err
	}
	l.Session = session
	return &l, nil
}

// RenewLease extends the lease held by session. It fails with a
// *domain.LockedError or domain.ErrLeaseLost once the session lost it.
func (c *Client) RenewLease(ctx context.Context, scope domain.Scope, session string) (*domain.Lease, error) {
	var l domain.Lease
	err := c.do(ctx, http.MethodPost, scriptPath(scope)+"/lease", acquireRequest{
		Session: session,
		Renew:   true,
	}, &l)
	if err != nil {
		return nil, err
	}
	l.Session = session
	return &l, nil
}

func (c *Client) ReleaseLease(ctx context.Context, scope domain.Scope, session string) (bool, error) {
	var out struct {
		Released bool `json:"released"`
	}
	path := scriptPath(scope) + "/lease?session=" + url.QueryEscape(session)
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return false, err
	}
	return out.Released, nil
}

type contentRequest struct {
	Content string `json:"content"`
}

func (c *Client) SaveDraft(ctx context.Context, scope domain.Scope, content string) (int, error) {
	var out struct {
		WordCount int `json:"word_count"`
	}
	if err := c.do(ctx, http.MethodPut, scriptPath(scope)+"/draft", contentRequest{Content: content}, &out); err != nil {
		return 0, err
	}
	return out.WordCount, nil
}

func (c *Client) CommitVersion(ctx context.Context, scope domain.Scope, content string) (*domain.Version, error) {
	var v domain.Version
	if err := c.do(ctx, http.MethodPost, scriptPath(scope)+"/versions", contentRequest{Content: content}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) ListVersions(ctx context.Context, scope domain.Scope) ([]domain.Version, error) {
	var out struct {
		Data []domain.Version `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, scriptPath(scope)+"/versions", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}
