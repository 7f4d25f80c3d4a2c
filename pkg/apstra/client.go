// Package apstra is the HTTP session to the fabric controller: login, graph
// queries, batch submissions and the handful of object endpoints the
// consolidation needs.
package apstra

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/google/uuid"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/audit"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/qe"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// Config holds controller connection settings
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// VerifyTLS enables certificate verification; controllers usually run
	// with a self-signed certificate.
	VerifyTLS bool
	Timeout   time.Duration

	// Jump, when set, reaches the controller through an SSH jump host.
	Jump *JumpConfig
}

// Params are the query parameters the controller accepts on mutations
type Params struct {
	Comment string `url:"comment,omitempty"`
	Async   string `url:"async,omitempty"`
}

// batchParams labels batch calls in the controller's audit trail
var batchParams = Params{Comment: "batch-api"}

type phaseKey struct{}

// WithPhase tags mutating requests made with ctx for the audit log
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseKey{}, phase)
}

func phaseFrom(ctx context.Context) string {
	p, _ := ctx.Value(phaseKey{}).(string)
	return p
}

// Client is an authenticated controller session. It is safe to reuse across
// blueprints; it carries no state beyond the auth token.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	token   string
	audit   audit.Logger
	runID   string
	jump    *JumpDialer
}

// NewClient creates a client; call Login before use
func NewClient(cfg Config) (*Client, error) {
	if cfg.Port == 0 {
		cfg.Port = 443
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	transport := &http.Transport{
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS},
		MaxIdleConnsPerHost: 4,
	}
	c := &Client{
		cfg:     cfg,
		baseURL: fmt.Sprintf("https://%s/api", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))),
		audit:   audit.Nop{},
	}
	if cfg.Jump != nil {
		jd, err := NewJumpDialer(*cfg.Jump)
		if err != nil {
			return nil, err
		}
		c.jump = jd
		transport.DialContext = jd.DialContext
	}
	c.http = &http.Client{Transport: transport, Timeout: cfg.Timeout}
	return c, nil
}

// SetAudit records every mutating request to l under runID
func (c *Client) SetAudit(l audit.Logger, runID string) {
	if l == nil {
		l = audit.Nop{}
	}
	c.audit = l
	c.runID = runID
}

// Close releases the jump host connection, if any
func (c *Client) Close() error {
	if c.jump != nil {
		return c.jump.Close()
	}
	return nil
}

// Login obtains an auth token
func (c *Client) Login(ctx context.Context) error {
	body := map[string]string{"username": c.cfg.Username, "password": c.cfg.Password}
	var resp struct {
		Token string `json:"token"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/aaa/login", nil, body, &resp); err != nil {
		return fmt.Errorf("login to %s as %s: %w", c.cfg.Host, c.cfg.Username, err)
	}
	if resp.Token == "" {
		return fmt.Errorf("login to %s: no token in response", c.cfg.Host)
	}
	c.token = resp.Token
	util.WithField("host", c.cfg.Host).Debug("logged in")
	return nil
}

// ListBlueprints returns every blueprint on the controller
func (c *Client) ListBlueprints(ctx context.Context) ([]BlueprintSummary, error) {
	var resp struct {
		Items []BlueprintSummary `json:"items"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/blueprints", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Query runs a graph query. A non-2xx response or a body without items is
// logged and treated as zero results; transport failures are returned.
func (c *Client) Query(ctx context.Context, bpID string, q *qe.Query) (qe.Result, error) {
	text := q.String()
	var resp struct {
		Items *[]qe.Binding `json:"items"`
	}
	_, err := c.do(ctx, http.MethodPost, bpPath(bpID, "/qe"), nil, map[string]string{"query": text}, &resp)
	if err != nil {
		var apiErr *APIError
		if asAPIError(err, &apiErr) {
			util.WithBlueprint(bpID).Warnf("query rejected (%d): %s", apiErr.Status, text)
			return qe.Result{}, nil
		}
		return nil, err
	}
	if resp.Items == nil {
		util.WithBlueprint(bpID).Warnf("query returned no items: %s", text)
		return qe.Result{}, nil
	}
	return qe.Result(*resp.Items), nil
}

// Batch submits a batch envelope as one call
func (c *Client) Batch(ctx context.Context, bpID string, req *BatchRequest) error {
	_, err := c.mutate(ctx, bpID, http.MethodPost, "/batch", &batchParams, req, nil)
	return err
}

// CreateSwitchSystemLinks creates systems with their links and returns the
// new link ids in request order
func (c *Client) CreateSwitchSystemLinks(ctx context.Context, bpID string, spec *SwitchSystemLinksSpec) ([]string, error) {
	var resp struct {
		IDs []string `json:"ids"`
	}
	if _, err := c.mutate(ctx, bpID, http.MethodPost, "/switch-system-links", nil, spec, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// PatchNode patches attributes of one node
func (c *Client) PatchNode(ctx context.Context, bpID, nodeID string, patch map[string]any) error {
	_, err := c.mutate(ctx, bpID, http.MethodPatch, "/nodes/"+url.PathEscape(nodeID), nil, patch, nil)
	return err
}

// PatchNodes patches several nodes; each patch carries its "id"
func (c *Client) PatchNodes(ctx context.Context, bpID string, patches []map[string]any) error {
	_, err := c.mutate(ctx, bpID, http.MethodPatch, "/nodes", nil, patches, nil)
	return err
}

// PatchLeafServerLinkLabels sets LAG group labels and modes on links
func (c *Client) PatchLeafServerLinkLabels(ctx context.Context, bpID string, spec *LinkLabelsSpec) error {
	_, err := c.mutate(ctx, bpID, http.MethodPatch, "/leaf-server-link-labels", nil, spec, nil)
	return err
}

// Tagging adds or removes tags on nodes
func (c *Client) Tagging(ctx context.Context, bpID string, payload *TaggingPayload) error {
	_, err := c.mutate(ctx, bpID, http.MethodPost, "/tagging", &Params{Async: "full"}, payload, nil)
	return err
}

// GetVirtualNetwork fetches the live virtual network object
func (c *Client) GetVirtualNetwork(ctx context.Context, bpID, vnID string) (*VirtualNetworkSpec, error) {
	var vn VirtualNetworkSpec
	if _, err := c.do(ctx, http.MethodGet, bpPath(bpID, "/virtual-networks/"+url.PathEscape(vnID)), nil, nil, &vn); err != nil {
		return nil, err
	}
	return &vn, nil
}

// PatchVirtualNetwork writes back a full virtual network object
func (c *Client) PatchVirtualNetwork(ctx context.Context, bpID string, vn *VirtualNetworkSpec) error {
	_, err := c.mutate(ctx, bpID, http.MethodPatch, "/virtual-networks/"+url.PathEscape(vn.ID), nil, vn, nil)
	return err
}

// CreateSingleVLANCT imports a single-VLAN connectivity template and returns its id
func (c *Client) CreateSingleVLANCT(ctx context.Context, bpID string, ct *SingleVLANCT) (string, error) {
	if ct.ID == "" {
		ct.ID = uuid.NewString()
	}
	body := ct.policyImport(uuid.NewString)
	if _, err := c.mutate(ctx, bpID, http.MethodPut, "/obj-policy-import", nil, body, nil); err != nil {
		return "", err
	}
	return ct.ID, nil
}

// GetDeviceProfile fetches a device profile from the design catalog
func (c *Client) GetDeviceProfile(ctx context.Context, id string) (*DeviceProfile, error) {
	var dp DeviceProfile
	if _, err := c.do(ctx, http.MethodGet, "/device-profiles/"+url.PathEscape(id), nil, nil, &dp); err != nil {
		return nil, err
	}
	return &dp, nil
}

// GetRenderedConfig returns the rendered device configuration of a system node
func (c *Client) GetRenderedConfig(ctx context.Context, bpID, nodeID string) (string, error) {
	var resp struct {
		Config string `json:"config"`
	}
	path := bpPath(bpID, "/nodes/"+url.PathEscape(nodeID)+"/config-rendering")
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.Config, nil
}

func bpPath(bpID, rest string) string {
	return "/blueprints/" + url.PathEscape(bpID) + rest
}

// mutate performs a blueprint-scoped write and records it in the audit log.
func (c *Client) mutate(ctx context.Context, bpID, method, rest string, params *Params, body, out any) (int, error) {
	path := bpPath(bpID, rest)
	start := time.Now()
	status, err := c.do(ctx, method, path, params, body, out)

	event := audit.NewEvent(c.cfg.Username, method, path).
		WithRun(c.runID).
		WithBlueprint(bpID).
		WithPhase(phaseFrom(ctx)).
		WithStatus(status).
		WithDuration(time.Since(start))
	if err != nil {
		event.WithError(err)
	}
	if aerr := c.audit.Log(event); aerr != nil {
		util.Warnf("audit log: %v", aerr)
	}
	return status, err
}

func (c *Client) do(ctx context.Context, method, path string, params *Params, body, out any) (int, error) {
	u := c.baseURL + path
	if params != nil {
		v, err := query.Values(params)
		if err != nil {
			return 0, err
		}
		if enc := v.Encode(); enc != "" {
			u += "?" + enc
		}
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("AuthToken", c.token)
	}

	util.WithFields(map[string]interface{}{"method": method, "path": path}).Debug("request")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, newAPIError(method, path, resp.StatusCode, data)
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}
