// Package sdk provides the client-side library for the attest ledger. It
// supports both remote connections over HTTP/TLS and local embedded mode.
package sdk

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/attest-dev/attest-ledger/pkg/schema"
)

// Client talks to a remote attest-ledgerd over HTTP. It implements Ledger.
type Client struct {
	baseURL  string
	agentKey string
	writeKey string
	http     *http.Client
}

// Connect prepares a client for the daemon at addr (host:port). The daemon
// serves TLS with a self-signed certificate by default; set
// ATTEST_DISABLE_TLS=true to talk plain HTTP instead.
func Connect(addr string) (*Client, error) {
	scheme := "https"
	transport := &http.Transport{
		// Self-signed certs for internal traffic.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	if os.Getenv("ATTEST_DISABLE_TLS") == "true" {
		scheme = "http"
		transport.TLSClientConfig = nil
	}

	return &Client{
		baseURL: scheme + "://" + addr,
		http: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
	}, nil
}

// SetAgentKey configures the credential used by Submit and WhoAmI.
func (c *Client) SetAgentKey(key string) { c.agentKey = key }

// SetWriteKey configures the admin override secret used by Submit.
func (c *Client) SetWriteKey(key string) { c.writeKey = key }

func (c *Client) Close() error { return nil }

// apiError is the decoded shape of a non-200 response.
type apiError struct {
	Message    string `json:"error"`
	Field      string `json:"field"`
	Scope      string `json:"scope"`
	RetryAfter int    `json:"retry_after_seconds"`
}

func (c *Client) do(method, path string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			if apiErr.RetryAfter > 0 {
				return fmt.Errorf("%s (%s scope, retry in %ds)", apiErr.Message, apiErr.Scope, apiErr.RetryAfter)
			}
			return fmt.Errorf("%s", apiErr.Message)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) Register(username string) (schema.Agent, error) {
	var res struct {
		Username string `json:"username"`
		AgentKey string `json:"agent_key"`
	}
	err := c.do(http.MethodPost, "/register", map[string]string{"username": username}, nil, &res)
	if err != nil {
		return schema.Agent{}, err
	}
	return schema.Agent{Username: res.Username, Key: res.AgentKey}, nil
}

func (c *Client) Submit(entry schema.EntryInput) (schema.QuotaStatus, error) {
	headers := map[string]string{}
	if c.agentKey != "" {
		headers["X-Agent-Key"] = c.agentKey
	}
	if c.writeKey != "" {
		headers["X-Write-Key"] = c.writeKey
	}

	var res struct {
		Quota schema.QuotaStatus `json:"quota"`
	}
	if err := c.do(http.MethodPost, "/entry", entry, headers, &res); err != nil {
		return schema.QuotaStatus{}, err
	}
	return res.Quota, nil
}

func (c *Client) Entries(limit int) ([]schema.Entry, error) {
	path := "/entries"
	if limit > 0 {
		path += "?limit=" + url.QueryEscape(strconv.Itoa(limit))
	}
	var entries []schema.Entry
	if err := c.do(http.MethodGet, path, nil, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) Agents() ([]string, error) {
	var agents []string
	if err := c.do(http.MethodGet, "/agents", nil, nil, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

func (c *Client) WhoAmI() (schema.QuotaStatus, error) {
	var status schema.QuotaStatus
	headers := map[string]string{"X-Agent-Key": c.agentKey}
	if err := c.do(http.MethodGet, "/whoami", nil, headers, &status); err != nil {
		return schema.QuotaStatus{}, err
	}
	return status, nil
}
