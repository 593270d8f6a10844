// Package journals talks to the external safety-journal service. The
// upstream is slow and occasionally times out, so every call carries an
// explicit deadline and errors are classified so callers can degrade
// instead of stacking retries.
package journals

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const DefaultTimeout = 30 * time.Second

var (
	// ErrTimeout marks an upstream deadline; read paths degrade to a safe
	// default on it, write paths surface it as retryable.
	ErrTimeout = errors.New("journals: upstream timeout")
	// ErrUpstream marks any other upstream failure.
	ErrUpstream = errors.New("journals: upstream error")
)

// Responsible is one accountable person as the upstream reports them. Any
// subset of the three identity fields may be present.
type Responsible struct {
	EmployeeID         string `json:"employee_id,omitempty"`
	EmployeeEmail      string `json:"employee_email,omitempty"`
	EmployeeName       string `json:"employee_name,omitempty"`
	ResponsibilityType string `json:"responsibility_type,omitempty"`
}

// BranchResponsibles is one element of the /branch_responsibles payload.
type BranchResponsibles struct {
	BranchID     string        `json:"branch_id"`
	BranchName   string        `json:"branch_name"`
	Responsibles []Responsible `json:"responsibles"`
}

// Branch is one element of the /me/branches_with_journals payload.
type Branch struct {
	BranchID      string `json:"branch_id"`
	BranchName    string `json:"branch_name"`
	BranchAddress string `json:"branch_address,omitempty"`
}

type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// BranchResponsibles fetches the responsible list for a branch.
func (c *Client) BranchResponsibles(ctx context.Context, token, branchID string) ([]BranchResponsibles, error) {
	u := fmt.Sprintf("%s/branch_responsibles/?branchId=%s", c.baseURL, url.QueryEscape(branchID))

	var out []BranchResponsibles
	if err := c.getJSON(ctx, token, u, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BranchesWithJournals fetches the branches visible to the caller.
func (c *Client) BranchesWithJournals(ctx context.Context, token string) ([]Branch, error) {
	u := c.baseURL + "/me/branches_with_journals"

	var out struct {
		Branches []Branch `json:"branches"`
	}
	if err := c.getJSON(ctx, token, u, &out); err != nil {
		return nil, err
	}
	return out.Branches, nil
}

// SubmitDecision records a journal status decision upstream. Unlike the
// read paths, the write is the whole point of the caller's request, so a
// timeout propagates instead of degrading.
func (c *Client) SubmitDecision(ctx context.Context, token, branchID, journalID, decision, comment string) error {
	u := fmt.Sprintf("%s/branches/%s/journals/%s/decision",
		c.baseURL, url.PathEscape(branchID), url.PathEscape(journalID))

	body, err := json.Marshal(map[string]string{
		"decision": decision,
		"comment":  comment,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: decision returned %d", ErrUpstream, resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, token, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req, token)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		err = classify(err)
		c.log.Warn("journal request failed",
			zap.String("url", u),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s returned %d", ErrUpstream, u, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
}

func classify(err error) error {
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

// IsTimeout reports whether err was an upstream deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
