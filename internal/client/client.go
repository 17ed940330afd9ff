// Package client talks to a lila server and rebuilds suggested outputs locally.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/lila-repro/lila/internal/external"
	"github.com/lila-repro/lila/pkg/repro"
	"github.com/lila-repro/lila/pkg/sbom"
	"github.com/lila-repro/lila/pkg/types"
)

// Client is an HTTP client of the lila API.
type Client struct {
	http    types.HTTPClientInterface
	baseURL string
	token   string
}

// New creates a client for the server at baseURL. A nil httpClient falls back to
// an oauth2 client carrying token, or a plain client without one.
func New(ctx context.Context, baseURL, token string, httpClient types.HTTPClientInterface) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("server URL is not provided")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if httpClient == nil {
		if token != "" {
			ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
			httpClient = oauth2.NewClient(ctx, ts)
		} else {
			httpClient = types.NewRealHTTPClient()
		}
	}
	return &Client{http: httpClient, baseURL: strings.TrimSuffix(baseURL, "/"), token: token}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s %s: %w", method, path, repro.ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, repro.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("error parsing JSON response: %w", err)
	}
	return nil
}

// Suggest returns up to one sample of outputs of report that the caller should rebuild.
func (c *Client) Suggest(ctx context.Context, report string) ([]sbom.Element, error) {
	var elements []sbom.Element
	if err := c.do(ctx, http.MethodGet, "/reports/"+url.PathEscape(report)+"/suggest", nil, &elements); err != nil {
		return nil, err
	}
	return elements, nil
}

// Summary returns the reproducibility state of every output of report.
func (c *Client) Summary(ctx context.Context, report string) (map[string]repro.State, error) {
	var states map[string]repro.State
	if err := c.do(ctx, http.MethodGet, "/reports/"+url.PathEscape(report)+"/summary", nil, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// Attest records output hashes of the derivation drvHash.
func (c *Client) Attest(ctx context.Context, drvHash string, attestations []external.AttestationRequest) error {
	if len(attestations) == 0 {
		return errors.New("no attestations to post")
	}
	return c.do(ctx, http.MethodPost, "/attestation/"+url.PathEscape(drvHash), attestations, nil)
}
