package types

import (
	"fmt"
	"net/http"
	"time"
)

// DefaultUserAgent identifies requests sent to a lila server.
const DefaultUserAgent = "lila-client"

// DefaultHTTPTimeout bounds one round trip to the server.
const DefaultHTTPTimeout = 30 * time.Second

// HTTPClientInterface is the part of *http.Client used by the API client, so
// tests can replace the transport.
type HTTPClientInterface interface {
	Do(req *http.Request) (*http.Response, error)
}

// RealHTTPClient sends requests with an http.Client and stamps them with UserAgent.
type RealHTTPClient struct {
	Client    *http.Client
	UserAgent string
}

// NewRealHTTPClient returns a client with DefaultHTTPTimeout and DefaultUserAgent.
func NewRealHTTPClient() *RealHTTPClient {
	return &RealHTTPClient{
		Client:    &http.Client{Timeout: DefaultHTTPTimeout},
		UserAgent: DefaultUserAgent,
	}
}

// Do sends req. A User-Agent already set on req is kept.
func (c *RealHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to do request: %w", err)
	}
	return resp, nil
}
