package supabasetoolbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Client calls the Supabase auth and storage REST APIs.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// New returns a Client; a nil httpClient uses http.DefaultClient.
func New(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), APIKey: apiKey, HTTP: httpClient}
}

// SignIn exchanges email+password for a session (password grant).
func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	return c.token(ctx, "password", map[string]string{"email": email, "password": password})
}

// Refresh exchanges a refresh token for a new session.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, fmt.Errorf("refresh token missing")
	}
	return c.token(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

func (c *Client) token(ctx context.Context, grant string, payload map[string]string) (Session, error) {
	var s Session
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/auth/v1/token?grant_type="+grant, bytes.NewReader(b))
	if err != nil {
		return s, err
	}
	req.Header.Set("apikey", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	if err := c.do(req, &s); err != nil {
		return s, err
	}
	return s, nil
}

// SignOut revokes the session behind accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/auth/v1/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.APIKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return c.do(req, nil)
}

// Upload stores an object in a storage bucket, replacing any existing object.
func (c *Client) Upload(ctx context.Context, accessToken, bucket, path, contentType string, body []byte) error {
	u := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.BaseURL, url.PathEscape(bucket), escapePath(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.APIKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	return c.do(req, nil)
}

// SignedURL returns a time-limited download URL for an object.
func (c *Client) SignedURL(ctx context.Context, accessToken, bucket, path string, expiresIn int) (string, error) {
	u := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", c.BaseURL, url.PathEscape(bucket), escapePath(path))
	b, _ := json.Marshal(map[string]int{"expiresIn": expiresIn})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("apikey", c.APIKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := c.do(req, &result); err != nil {
		return "", err
	}
	return c.BaseURL + "/storage/v1" + result.SignedURL, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode supabase response: %w", err)
	}
	return nil
}

func escapePath(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
