package locket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmdatafocus/restore_backend/restore"
	"github.com/mmdatafocus/restore_backend/utils"
)

const maxErrorBody = 512

// Client talks to the subscription API. It implements restore.SubscriptionAPI.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func (c *Client) GetAccountByUsername(ctx context.Context, token, username string) (restore.Account, error) {
	body, err := c.post(ctx, token, "/getUserByUsername", callableRequest{Data: map[string]string{"username": username}})
	if err != nil {
		return restore.Account{}, err
	}
	var parsed userByUsernameResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return restore.Account{}, fmt.Errorf("%w: decode account: %v", utils.ErrUpstream, err)
	}
	d := parsed.Result.Data
	if d == nil {
		return restore.Account{}, fmt.Errorf("%w: %w: no account for username %q", utils.ErrUpstream, utils.ErrNotFound, username)
	}
	return restore.Account{
		Uid:               d.Uid,
		Username:          d.Username,
		FirstName:         d.FirstName,
		LastName:          d.LastName,
		ProfilePictureURL: d.ProfilePictureURL,
		Raw:               body,
	}, nil
}

func (c *Client) RestorePurchase(ctx context.Context, token, uid string) (restore.Entitlements, error) {
	body, err := c.post(ctx, token, "/restorePurchase", callableRequest{Data: map[string]string{"uid": uid}})
	if err != nil {
		return restore.Entitlements{}, err
	}
	var parsed restoreResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return restore.Entitlements{}, fmt.Errorf("%w: decode entitlements: %v", utils.ErrUpstream, err)
	}
	ents := restore.Entitlements{
		Entitlements: make(map[string]restore.Entitlement, len(parsed.Subscriber.Entitlements)),
		Raw:          body,
	}
	for name, e := range parsed.Subscriber.Entitlements {
		ents.Entitlements[name] = restore.Entitlement{
			ProductIdentifier: e.ProductIdentifier,
			ExpiresDate:       e.ExpiresDate,
			PurchaseDate:      e.PurchaseDate,
		}
	}
	return ents, nil
}

func (c *Client) post(ctx context.Context, token, path string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", utils.ErrUpstream, path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return body, statusError(path, resp.StatusCode, body)
}

func statusError(path string, code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("%w: %s returned %d: %s", utils.ErrAuth, path, code, msg)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %w: %s returned %d", utils.ErrUpstream, utils.ErrNotFound, path, code)
	case isUnauthenticatedBody(body):
		return fmt.Errorf("%w: %s returned %d: %s", utils.ErrAuth, path, code, msg)
	default:
		return fmt.Errorf("%w: %s returned %d: %s", utils.ErrUpstream, path, code, msg)
	}
}

// isUnauthenticatedBody recognises callable-function errors that signal an
// expired token with a non-401 status.
func isUnauthenticatedBody(body []byte) bool {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		return false
	}
	var fe struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Error, &fe); err != nil {
		return false
	}
	return strings.EqualFold(fe.Status, "UNAUTHENTICATED") || strings.Contains(strings.ToLower(fe.Message), "unauthenticated")
}
