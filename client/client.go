// Package client talks to the content server's HTTP API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	v1 "github.com/imrenagi/go-http-cdn/api/v1"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned by Download when the server does not have the
// requested file.
var ErrNotFound = errors.New("file not found")

// StatusError is returned when the server answers with an unexpected
// status. Msg carries the envelope message, if any.
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Msg)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client for the server at baseURL, e.g.
// "http://localhost:8080". A nil httpClient uses http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

// List returns the names of all stored files.
func (c *Client) List(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files", nil)
	if err != nil {
		return nil, err
	}
	var resp v1.Response
	if err := c.do(req, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Files))
	for _, f := range resp.Files {
		names = append(names, f.Name)
	}
	return names, nil
}

// Upload stores content under name and returns the server's message.
func (c *Client) Upload(ctx context.Context, name, content string) (string, error) {
	form := url.Values{"name": {name}, "content": {content}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/file", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set(v1.ContentTypeHeader, "application/x-www-form-urlencoded")

	var resp v1.Response
	if err := c.do(req, http.StatusCreated, &resp); err != nil {
		return "", err
	}
	log.Debug().Str("file_name", name).Int("file_size", len(content)).Msg("file uploaded")
	return resp.Msg, nil
}

// Download returns the content stored under name.
func (c *Client) Download(ctx context.Context, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/file/"+url.PathEscape(name), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading response: %w", err)
	}
	return string(b), nil
}

func (c *Client) do(req *http.Request, want int, out *v1.Response) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var env v1.Response
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return &StatusError{Code: resp.StatusCode, Msg: env.Msg}
}
