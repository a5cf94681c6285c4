package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jobforge/jobforge/pkg/render"
)

// endpoints describes the URL shape for one resource kind on the server.
type endpoints struct {
	// createPath receives new documents, with the resource name as the
	// "name" query parameter.
	createPath string

	// itemPath is the per-resource path prefix; config, update and delete
	// URLs hang off it.
	itemPath string

	// listField is the JSON field of the api listing holding the
	// resources of this kind.
	listField string
}

var jobEndpoints = endpoints{createPath: "createItem", itemPath: "job", listField: "jobs"}
var viewEndpoints = endpoints{createPath: "createView", itemPath: "view", listField: "views"}

// HTTPConfig configures a client for one remote target.
type HTTPConfig struct {
	// URL is the server base URL.
	URL string

	// User and APIToken authenticate every call via basic auth.
	User     string
	APIToken string

	// Timeout applies per call.
	Timeout time.Duration
}

// HTTPClient implements Client against a Jenkins-style REST surface.
type HTTPClient struct {
	base      string
	targetID  string
	user      string
	token     string
	endpoints endpoints
	client    *http.Client
}

// NewJobClient creates a Client for job resources.
func NewJobClient(cfg HTTPConfig) (*HTTPClient, error) {
	return newHTTPClient(cfg, jobEndpoints)
}

// NewViewClient creates a Client for view resources.
func NewViewClient(cfg HTTPConfig) (*HTTPClient, error) {
	return newHTTPClient(cfg, viewEndpoints)
}

func newHTTPClient(cfg HTTPConfig, ep endpoints) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote URL is required")
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote URL %q: %w", cfg.URL, err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		base:      strings.TrimRight(parsed.String(), "/"),
		targetID:  parsed.Host + parsed.Path,
		user:      cfg.User,
		token:     cfg.APIToken,
		endpoints: ep,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

// TargetID identifies the remote target for cache keying.
func (c *HTTPClient) TargetID() string {
	return c.targetID
}

// List returns the resources stored remotely, with their managed flag. The
// flag requires reading each stored document back, so listing costs one
// call per resource plus one for the index.
func (c *HTTPClient) List(ctx context.Context) ([]Resource, error) {
	listURL := fmt.Sprintf("%s/api/json?tree=%s[name]", c.base, c.endpoints.listField)
	body, err := c.do(ctx, http.MethodGet, listURL, nil, "list", "")
	if err != nil {
		return nil, err
	}

	var listing map[string][]struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, &CallError{Op: "list", Err: fmt.Errorf("malformed listing response: %w", err)}
	}

	var resources []Resource
	for _, item := range listing[c.endpoints.listField] {
		document, err := c.fetchConfig(ctx, item.Name)
		if err != nil {
			return nil, err
		}
		resources = append(resources, Resource{
			Name:    item.Name,
			Managed: render.IsManaged(document),
		})
	}
	return resources, nil
}

// Create uploads a new resource document.
func (c *HTTPClient) Create(ctx context.Context, name string, document []byte) error {
	createURL := fmt.Sprintf("%s/%s?name=%s", c.base, c.endpoints.createPath, url.QueryEscape(name))
	_, err := c.do(ctx, http.MethodPost, createURL, document, "create", name)
	return err
}

// Update replaces an existing resource document.
func (c *HTTPClient) Update(ctx context.Context, name string, document []byte) error {
	_, err := c.do(ctx, http.MethodPost, c.itemURL(name, "config.xml"), document, "update", name)
	return err
}

// Delete removes a stored resource.
func (c *HTTPClient) Delete(ctx context.Context, name string) error {
	_, err := c.do(ctx, http.MethodPost, c.itemURL(name, "doDelete"), nil, "delete", name)
	return err
}

func (c *HTTPClient) fetchConfig(ctx context.Context, name string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, c.itemURL(name, "config.xml"), nil, "list", name)
}

func (c *HTTPClient) itemURL(name, suffix string) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.base, c.endpoints.itemPath, url.PathEscape(name), suffix)
}

// do performs one HTTP call and classifies failures. Transport-level
// failures are connectivity-class (they abort remaining dispatch); HTTP
// status errors and timeouts are per-item.
func (c *HTTPClient) do(ctx context.Context, method, rawURL string, body []byte, op, name string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, &CallError{Op: op, Name: name, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &CallError{
			Op:           op,
			Name:         name,
			Connectivity: isConnectivityErr(err),
			Err:          err,
		}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CallError{Op: op, Name: name, Err: err}
	}
	if resp.StatusCode >= 400 {
		return nil, &CallError{
			Op:         op,
			Name:       name,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("server returned %s", resp.Status),
		}
	}
	return payload, nil
}

// isConnectivityErr classifies transport errors. A timeout is a per-item
// failure; a refused connection or failed lookup means the remote system
// is unreachable.
func isConnectivityErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
