package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultAwaitPollInterval = 2 * time.Second

// Addresses are the program-derived addresses for an owner and optional mint.
type Addresses struct {
	Owner            string  `json:"owner"`
	UserPool         string  `json:"user_pool"`
	GlobalAuthority  string  `json:"global_authority"`
	GlobalBump       uint8   `json:"global_bump"`
	Mint             *string `json:"mint,omitempty"`
	Metadata         *string `json:"metadata,omitempty"`
	UserTokenAccount *string `json:"user_token_account,omitempty"`
	DestTokenAccount *string `json:"dest_token_account,omitempty"`
}

// StakedNFT is one occupied slot of a user pool.
type StakedNFT struct {
	NftAddr   string    `json:"nft_addr"`
	StakeTime time.Time `json:"stake_time"`
}

// UserPool is an owner's decoded staking pool.
type UserPool struct {
	Address   string      `json:"address"`
	Owner     string      `json:"owner"`
	ItemCount uint64      `json:"item_count"`
	XPGained  uint64      `json:"xp_gained"`
	Items     []StakedNFT `json:"items"`
}

// UnsignedTransaction is a transaction built by the server for a wallet to sign.
type UnsignedTransaction struct {
	Action               string     `json:"action"`
	Transaction          string     `json:"transaction"` // base64
	Blockhash            string     `json:"blockhash"`
	LastValidBlockHeight uint64     `json:"last_valid_block_height"`
	FeePayer             string     `json:"fee_payer"`
	Programs             []string   `json:"programs"`
	InitializesPool      bool       `json:"initializes_pool"`
	Addresses            *Addresses `json:"addresses"`
}

// Submission is a tracked staking transaction.
type Submission struct {
	Signature string    `json:"signature"`
	Owner     string    `json:"owner"`
	Action    string    `json:"action"`
	Mint      *string   `json:"mint,omitempty"`
	UserPool  string    `json:"user_pool"`
	Status    string    `json:"status"`
	Slot      *int64    `json:"slot,omitempty"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Settled reports whether the submission has reached a status that no longer changes
// through polling.
func (s *Submission) Settled() bool {
	switch s.Status {
	case "confirmed", "finalized", "failed":
		return true
	}
	return false
}

// SubmitResult is the server's answer to a submitted transaction.
type SubmitResult struct {
	Signature  string      `json:"signature"`
	Status     string      `json:"status"`
	WorkflowID string      `json:"workflow_id,omitempty"`
	Warning    string      `json:"warning,omitempty"`
	Submission *Submission `json:"submission,omitempty"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed: %s", e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client is the HTTP client for the nftstake service.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	logger       *slog.Logger
	pollInterval time.Duration
}

// NewClient creates a new staking service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:      baseURL,
		httpClient:   httpClient,
		logger:       logger,
		pollInterval: defaultAwaitPollInterval,
	}
}

// SetPollInterval sets how often AwaitSubmission polls.
func (c *Client) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.pollInterval = d
	}
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// Addresses derives the program addresses for owner. mint may be empty.
func (c *Client) Addresses(ctx context.Context, owner, mint string) (*Addresses, error) {
	q := url.Values{}
	q.Set("owner", owner)
	if mint != "" {
		q.Set("mint", mint)
	}

	var out struct {
		ProgramID string     `json:"program_id"`
		Addresses *Addresses `json:"addresses"`
	}
	if err := c.getJSON(ctx, "/api/v1/programs/addresses?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Addresses, nil
}

// GetUserPool retrieves owner's decoded pool.
func (c *Client) GetUserPool(ctx context.Context, owner string) (*UserPool, error) {
	var pool UserPool
	if err := c.getJSON(ctx, "/api/v1/pools/"+url.PathEscape(owner), &pool); err != nil {
		return nil, err
	}
	return &pool, nil
}

// GetXP retrieves the experience points accrued in owner's pool.
func (c *Client) GetXP(ctx context.Context, owner string) (uint64, error) {
	var out struct {
		XPGained uint64 `json:"xp_gained"`
	}
	if err := c.getJSON(ctx, "/api/v1/pools/"+url.PathEscape(owner)+"/xp", &out); err != nil {
		return 0, err
	}
	return out.XPGained, nil
}

// BuildTransaction asks the server for an unsigned init, stake or withdraw
// transaction. mint is ignored for init.
func (c *Client) BuildTransaction(ctx context.Context, action, owner, mint string) (*UnsignedTransaction, error) {
	body := map[string]string{"owner": owner}
	if mint != "" {
		body["mint"] = mint
	}

	var out UnsignedTransaction
	if err := c.postJSON(ctx, "/api/v1/transactions/"+url.PathEscape(action), body, http.StatusOK, &out); err != nil {
		return nil, err
	}

	c.logger.Debug("transaction built", "action", action, "owner", owner, "initializes_pool", out.InitializesPool)
	return &out, nil
}

// Submit sends a wallet-signed base64 transaction through the server.
func (c *Client) Submit(ctx context.Context, transaction, action, mint string) (*SubmitResult, error) {
	body := map[string]string{
		"transaction": transaction,
		"action":      action,
	}
	if mint != "" {
		body["mint"] = mint
	}

	var out SubmitResult
	if err := c.postJSON(ctx, "/api/v1/transactions/submit", body, http.StatusAccepted, &out); err != nil {
		return nil, err
	}

	if out.Warning != "" {
		c.logger.Warn("submission accepted with warning", "signature", out.Signature, "warning", out.Warning)
	}
	c.logger.Debug("transaction submitted", "signature", out.Signature, "action", action)
	return &out, nil
}

// GetSubmission retrieves a tracked submission by signature.
func (c *Client) GetSubmission(ctx context.Context, signature string) (*Submission, error) {
	var sub Submission
	if err := c.getJSON(ctx, "/api/v1/submissions/"+url.PathEscape(signature), &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubmissions retrieves owner's submissions, newest first.
// A zero limit uses the server default.
func (c *Client) ListSubmissions(ctx context.Context, owner string, limit, offset int) ([]*Submission, error) {
	q := url.Values{}
	q.Set("owner", owner)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var out struct {
		Submissions []*Submission `json:"submissions"`
	}
	if err := c.getJSON(ctx, "/api/v1/submissions?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Submissions, nil
}

// AwaitSubmission polls signature until it settles or timeout elapses.
// A submission that is not recorded yet is polled again.
func (c *Client) AwaitSubmission(ctx context.Context, signature string, timeout time.Duration) (*Submission, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		sub, err := c.GetSubmission(ctx, signature)
		switch {
		case err == nil && sub.Settled():
			c.logger.Debug("submission settled", "signature", signature, "status", sub.Status)
			return sub, nil
		case err != nil && !IsNotFound(err):
			if ctx.Err() != nil {
				return nil, fmt.Errorf("timed out waiting for submission %s: %w", signature, ctx.Err())
			}
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for submission %s: %w", signature, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, in interface{}, wantStatus int, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
