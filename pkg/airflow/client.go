// Package airflow is the HTTP client for the external workflow executor.
//
// Two protocol generations of the executor are in the field: the stable v1
// API authenticated with HTTP basic auth, and the v2 API of the 3.x series
// authenticated with a short-lived bearer token. The client autodetects the
// generation unless the configuration pins one.
package airflow

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lliwi/sar-v3-sub000/internal/logger"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// APIVariant selects the executor protocol generation.
type APIVariant string

const (
	// VariantAuto probes the server to pick a variant.
	VariantAuto APIVariant = ""
	// VariantBasic is the v1 API with HTTP basic auth.
	VariantBasic APIVariant = "v1"
	// VariantBearer is the v2 API of the 3.x series with JWT bearer auth.
	VariantBearer APIVariant = "v2"
)

// Token lifetime assumptions for the bearer variant. The executor does not
// advertise an expiry, so the token is treated as valid for one hour from
// issuance minus a safety margin.
const (
	tokenLifetime     = time.Hour
	tokenSafetyMargin = 5 * time.Minute
)

// RunState is a workflow run state as reported by the executor.
type RunState string

const (
	StateQueued    RunState = "queued"
	StateRunning   RunState = "running"
	StateSuccess   RunState = "success"
	StateFailed    RunState = "failed"
	StateCancelled RunState = "cancelled"
	StateSkipped   RunState = "skipped"
)

// IsTerminal reports whether the run has finished. Unknown states are
// treated as non-terminal so polling continues until the timeout.
func (s RunState) IsTerminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateCancelled, StateSkipped:
		return true
	case StateQueued, StateRunning:
		return false
	default:
		logger.Warn("Unknown workflow run state, treating as non-terminal", logger.KeyRunState, string(s))
		return false
	}
}

// Succeeded reports whether the run finished successfully.
func (s RunState) Succeeded() bool {
	return s == StateSuccess
}

// Config contains workflow executor client configuration.
type Config struct {
	// BaseURL is the executor endpoint. It may point at the server root or
	// carry an /api/v1 suffix, which pins the basic-auth variant.
	BaseURL string `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`

	// Username and Password are used for basic auth and for obtaining
	// bearer tokens.
	Username string `mapstructure:"username" yaml:"username" validate:"required"`
	Password string `mapstructure:"password" yaml:"password" validate:"required"`

	// DagID is the workflow definition triggered for every membership
	// change.
	DagID string `mapstructure:"dag_id" yaml:"dag_id" validate:"required"`

	// APIVariant pins the protocol generation and skips detection.
	// One of "", "v1", "v2".
	APIVariant string `mapstructure:"api_variant" yaml:"api_variant" validate:"omitempty,oneof=v1 v2"`

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`

	// RequestTimeout bounds individual HTTP calls. Default: 30s.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// TokenTimeout bounds the token acquisition call. Default: 300s.
	TokenTimeout time.Duration `mapstructure:"token_timeout" yaml:"token_timeout"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.TokenTimeout == 0 {
		c.TokenTimeout = 300 * time.Second
	}
}

// Client talks to the workflow executor. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client

	mu       sync.Mutex
	variant  APIVariant
	root     string // scheme://host, no API suffix
	token    string
	tokenExp time.Time
}

// New creates a workflow executor client. The protocol variant is resolved
// lazily on first use unless the configuration pins one.
func New(cfg Config) (*Client, error) {
	cfg.ApplyDefaults()

	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid executor base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("executor base URL must be absolute: %q", cfg.BaseURL)
	}

	transport := http.DefaultTransport
	if cfg.InsecureSkipVerify {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		transport = t
	}

	c := &Client{
		cfg:  cfg,
		http: &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
		root: u.Scheme + "://" + u.Host,
	}

	switch APIVariant(cfg.APIVariant) {
	case VariantBasic, VariantBearer:
		c.variant = APIVariant(cfg.APIVariant)
	default:
		// A base URL pinned to the v1 path skips detection entirely.
		if strings.Contains(u.Path, "/api/v1") {
			c.variant = VariantBasic
		}
	}
	return c, nil
}

// SubmitConf is the run configuration handed to the workflow executor. The
// executor's DAG reads the artefact named here and applies the membership
// change it describes.
type SubmitConf struct {
	CSVFile   string `json:"csv_file"`
	RequestID string `json:"request_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}

type dagRunRequest struct {
	DagRunID    string     `json:"dag_run_id"`
	Conf        SubmitConf `json:"conf"`
	LogicalDate *string    `json:"logical_date,omitempty"`
}

type dagRunResponse struct {
	DagRunID string `json:"dag_run_id"`
	State    string `json:"state"`
}

// SubmitRun triggers a run of the configured DAG. The caller supplies the
// run id so resubmission after a crash is idempotent on the executor side.
// Returns the run id the executor acknowledged.
func (c *Client) SubmitRun(ctx context.Context, runID string, conf SubmitConf) (string, error) {
	variant, err := c.resolveVariant(ctx)
	if err != nil {
		return "", err
	}

	body := dagRunRequest{DagRunID: runID, Conf: conf}
	if variant == VariantBearer {
		// The 3.x API rejects runs without a logical date.
		now := time.Now().UTC().Format(time.RFC3339)
		body.LogicalDate = &now
	}

	var resp dagRunResponse
	path := fmt.Sprintf("/dags/%s/dagRuns", url.PathEscape(c.cfg.DagID))
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", err
	}

	acked := resp.DagRunID
	if acked == "" {
		acked = runID
	}
	logger.Info("Workflow run submitted",
		logger.KeyDagID, c.cfg.DagID,
		logger.KeyRunID, acked,
		logger.KeyCSVPath, conf.CSVFile)
	return acked, nil
}

// GetRun returns the current state of a run.
func (c *Client) GetRun(ctx context.Context, runID string) (RunState, error) {
	if _, err := c.resolveVariant(ctx); err != nil {
		return "", err
	}

	var resp dagRunResponse
	path := fmt.Sprintf("/dags/%s/dagRuns/%s", url.PathEscape(c.cfg.DagID), url.PathEscape(runID))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	return RunState(resp.State), nil
}

// WaitForRun polls the run until it reaches a terminal state or the timeout
// elapses. The poll interval is fixed; the context cancels early.
func (c *Client) WaitForRun(ctx context.Context, runID string, timeout, interval time.Duration) (RunState, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		state, err := c.GetRun(ctx, runID)
		if err != nil {
			return "", err
		}
		if state.IsTerminal() {
			return state, nil
		}
		if time.Now().After(deadline) {
			return state, models.Transient(fmt.Sprintf("run %s still %s after %s", runID, state, timeout), nil)
		}
		select {
		case <-ctx.Done():
			return state, models.Transient("run polling interrupted", ctx.Err())
		case <-ticker.C:
		}
	}
}

// resolveVariant returns the protocol variant, probing the server once if
// configuration did not pin it. Detection order: /api/v2/version reporting a
// 3.x release selects bearer; anything else falls back to basic.
func (c *Client) resolveVariant(ctx context.Context) (APIVariant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.variant != VariantAuto {
		return c.variant, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.root+"/api/v2/version", nil)
	if err != nil {
		return "", models.Permanent("building version probe", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.variant = VariantBasic
		logger.Warn("Executor version probe failed, assuming v1 API", logger.KeyError, err)
		return c.variant, nil
	}
	defer resp.Body.Close()

	c.variant = VariantBasic
	if resp.StatusCode == http.StatusOK {
		var v struct {
			Version string `json:"version"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&v); err == nil && strings.HasPrefix(v.Version, "3.") {
			c.variant = VariantBearer
		}
	}
	logger.Info("Workflow executor API variant detected", logger.KeyOperation, string(c.variant))
	return c.variant, nil
}

// apiBase returns the URL prefix for API calls under the resolved variant.
func (c *Client) apiBase(variant APIVariant) string {
	if variant == VariantBearer {
		return c.root + "/api/v2"
	}
	return c.root + "/api/v1"
}

// do performs one authenticated API call, decoding the JSON response into
// out when out is non-nil. For the bearer variant a 401 invalidates the
// cached token and the call is retried exactly once with a fresh one.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	variant, err := c.resolveVariant(ctx)
	if err != nil {
		return err
	}

	status, err := c.doOnce(ctx, variant, method, path, body, out, false)
	if err == nil && status == http.StatusUnauthorized && variant == VariantBearer {
		c.invalidateToken()
		logger.Debug("Executor rejected token, refreshing once", logger.KeyOperation, method+" "+path)
		status, err = c.doOnce(ctx, variant, method, path, body, out, true)
	}
	if err != nil {
		return err
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized && variant == VariantBearer:
		// The refresh above already spent the one inline retry. A freshly
		// issued token being rejected is an executor-side auth hiccup, so
		// the caller's retry budget applies.
		return models.Transient(fmt.Sprintf("executor rejected a fresh token on %s %s", method, path), nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.Permanent(fmt.Sprintf("executor refused %s %s with status %d", method, path, status), nil)
	case status == http.StatusNotFound:
		return models.NewFault(models.FaultNotFound, fmt.Sprintf("executor has no %s", path), nil)
	case status >= 500:
		return models.Transient(fmt.Sprintf("executor returned status %d for %s %s", status, method, path), nil)
	default:
		return models.Permanent(fmt.Sprintf("executor returned status %d for %s %s", status, method, path), nil)
	}
}

func (c *Client) doOnce(ctx context.Context, variant APIVariant, method, path string, body, out any, freshToken bool) (int, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, models.Permanent("encoding executor request", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase(variant)+path, reader)
	if err != nil {
		return 0, models.Permanent("building executor request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	switch variant {
	case VariantBearer:
		token, err := c.bearerToken(ctx, freshToken)
		if err != nil {
			return 0, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	default:
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, models.Transient("executor unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return 0, models.Transient("decoding executor response", err)
		}
		return resp.StatusCode, nil
	}
	// Drain so the connection is reusable.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

// bearerToken returns a cached token, requesting a new one when the cache is
// empty, expired, or force is set.
func (c *Client) bearerToken(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.token != "" && time.Now().Before(c.tokenExp) {
		return c.token, nil
	}

	tctx, cancel := context.WithTimeout(ctx, c.cfg.TokenTimeout)
	defer cancel()

	buf, _ := json.Marshal(map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	})
	req, err := http.NewRequestWithContext(tctx, http.MethodPost, c.root+"/auth/token", bytes.NewReader(buf))
	if err != nil {
		return "", models.Permanent("building token request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", models.Transient("token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", models.Transient(fmt.Sprintf("token endpoint returned status %d", resp.StatusCode), nil)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", models.Transient("decoding token response", err)
	}
	if tok.AccessToken == "" {
		return "", models.Permanent("token endpoint returned an empty token", nil)
	}

	c.token = tok.AccessToken
	c.tokenExp = time.Now().Add(tokenLifetime - tokenSafetyMargin)
	logger.Debug("Workflow executor token refreshed")
	return c.token, nil
}

// invalidateToken drops the cached token so the next call fetches a new one.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExp = time.Time{}
	c.mu.Unlock()
}
