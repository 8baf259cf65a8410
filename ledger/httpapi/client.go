package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/equa/scoring-ledger/internal/errkind"
	"github.com/equa/scoring-ledger/ledger/model"
)

// Client is the auditor-side authenticated fetch client, grounded on
// go-equa's own cmd/equa-beacon-engine/engine/rpc.go RPCClient: a plain
// endpoint, an http.Client, and a bearer token attached the same way
// that file's CallEngine attaches a JWT.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	hotkey     string
	sign       func([]byte) (string, error)

	maxRetries int
}

func NewClient(baseURL string, timeout time.Duration, maxRetries int, hotkey string, sign func([]byte) (string, error)) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		hotkey:     hotkey,
		sign:       sign,
		maxRetries: maxRetries,
	}
}

// Authenticate runs the challenge/response handshake once and caches the
// bearer token for subsequent calls.
func (c *Client) Authenticate(ctx context.Context) error {
	var challengeResp struct {
		Nonce string `json:"nonce"`
	}
	if err := c.postJSON(ctx, "/ledger/auth/challenge", map[string]string{"hotkey": c.hotkey}, "", &challengeResp); err != nil {
		return err
	}
	sig, err := c.sign([]byte(challengeResp.Nonce))
	if err != nil {
		return errkind.Wrap(errkind.Authentication, err, "sign challenge nonce")
	}
	var respondResp struct {
		Token string `json:"token"`
	}
	if err := c.postJSON(ctx, "/ledger/auth/respond", map[string]string{
		"hotkey": c.hotkey, "nonce": challengeResp.Nonce, "signature": sig,
	}, "", &respondResp); err != nil {
		return err
	}
	c.token = respondResp.Token
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, token string, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return errkind.Wrap(errkind.Integrity, err, "marshal request body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return errkind.Wrap(errkind.Transient, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path, token string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, errkind.Wrap(errkind.Transient, err, "build request")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, errkind.Wrap(errkind.Transient, err, "execute request")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, errkind.New(errkind.Transient, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, errkind.Wrap(errkind.Integrity, err, "decode response")
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.Transient, err, "execute request")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errkind.New(errkind.Authentication, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errkind.Wrap(errkind.Integrity, err, "decode response")
		}
	}
	return nil
}

// FetchLatestCheckpoint retries transient failures up to maxRetries with
// exponential backoff, and re-authenticates exactly once per request on
// a 401.
func (c *Client) FetchLatestCheckpoint(ctx context.Context) (*model.CheckpointWindow, error) {
	var cp model.CheckpointWindow
	reauthed := false
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		status, err := c.getJSON(ctx, "/ledger/checkpoints/latest", c.token, &cp)
		if status == http.StatusNotFound {
			return nil, nil
		}
		if status == http.StatusUnauthorized && !reauthed {
			reauthed = true
			if authErr := c.Authenticate(ctx); authErr != nil {
				return nil, authErr
			}
			continue
		}
		if err == nil {
			return &cp, nil
		}
		kind, _ := errkind.Of(err)
		if kind != errkind.Transient || attempt == c.maxRetries {
			return nil, err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return nil, errkind.New(errkind.Transient, "exhausted retries")
}

func (c *Client) FetchDeltaIDs(ctx context.Context, epoch uint64, since string) ([]string, error) {
	path := fmt.Sprintf("/ledger/deltas?epoch=%d", epoch)
	if since != "" {
		path += "&since=" + since
	}
	var out struct {
		Deltas []string `json:"deltas"`
	}
	if _, err := c.getJSON(ctx, path, c.token, &out); err != nil {
		return nil, err
	}
	return out.Deltas, nil
}

func (c *Client) FetchDelta(ctx context.Context, id string) (*model.DeltaWindow, error) {
	var d model.DeltaWindow
	status, err := c.getJSON(ctx, "/ledger/deltas/"+id, c.token, &d)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
