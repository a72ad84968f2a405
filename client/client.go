// Package client provides the REST client the worker components and the
// command line tool use to talk to the LTA DB service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// A Document is one LTA DB record, as returned by the REST service.
type Document = map[string]any

// Config holds everything needed to construct a Client.
type Config struct {
	// base URL of the LTA DB service
	RestURL string
	// OpenID token endpoint issuing client credentials tokens; leave empty
	// to send unauthenticated requests (tests only)
	TokenURL string
	// client credentials registered with the token issuer
	ClientID     string
	ClientSecret string
	// per-request timeout
	Timeout time.Duration
	// number of attempts for each request (default 3)
	Retries int
}

// Client is a REST client for the LTA DB service.
type Client struct {
	restURL string
	retries int
	http    *http.Client
}

// New constructs a Client. When a token URL is configured, every request
// carries a bearer token obtained via the OAuth2 client credentials flow,
// refreshed automatically as it expires.
func New(config Config) *Client {
	retries := config.Retries
	if retries < 1 {
		retries = 3
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	if config.TokenURL != "" {
		credentials := clientcredentials.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			TokenURL:     config.TokenURL,
		}
		httpClient = credentials.Client(context.Background())
		httpClient.Timeout = timeout
	}
	return &Client{
		restURL: config.RestURL,
		retries: retries,
		http:    httpClient,
	}
}

// Do performs one JSON round trip against the service, decoding any
// response body into out (which may be nil). Transient failures are
// retried with a linear backoff.
func (c *Client) Do(ctx context.Context, method, path string, body any, out any) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		var reader io.Reader = http.NoBody
		if body != nil {
			reader = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.restURL+path, reader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(respBody)}
			continue
		}
		if resp.StatusCode >= 400 {
			return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(respBody)}
		}
		if out != nil && len(respBody) > 0 {
			return json.Unmarshal(respBody, out)
		}
		return nil
	}
	return lastErr
}

// Alive checks that the LTA DB service is responding at all.
func (c *Client) Alive(ctx context.Context) error {
	return c.Do(ctx, http.MethodGet, "/", nil, nil)
}

// CreateTransferRequest asks the LTA DB to create a new TransferRequest
// and returns its uuid.
func (c *Client) CreateTransferRequest(ctx context.Context, source, dest, path string) (string, error) {
	var response struct {
		TransferRequest string `json:"TransferRequest"`
	}
	err := c.Do(ctx, http.MethodPost, "/TransferRequests", Document{
		"source": source,
		"dest":   dest,
		"path":   path,
	}, &response)
	if err != nil {
		return "", err
	}
	return response.TransferRequest, nil
}

// ListTransferRequests returns every TransferRequest document.
func (c *Client) ListTransferRequests(ctx context.Context) ([]Document, error) {
	var response struct {
		Results []Document `json:"results"`
	}
	err := c.Do(ctx, http.MethodGet, "/TransferRequests", nil, &response)
	if err != nil {
		return nil, err
	}
	return response.Results, nil
}

// GetTransferRequest returns the TransferRequest with the given uuid.
func (c *Client) GetTransferRequest(ctx context.Context, uuid string) (Document, error) {
	var doc Document
	err := c.Do(ctx, http.MethodGet, "/TransferRequests/"+uuid, nil, &doc)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// PatchTransferRequest merges the given patch into a TransferRequest.
func (c *Client) PatchTransferRequest(ctx context.Context, uuid string, patch Document) error {
	return c.Do(ctx, http.MethodPatch, "/TransferRequests/"+uuid, patch, nil)
}

// PopTransferRequest claims the longest-waiting unclaimed TransferRequest
// at the given source site. Returns nil when no work is available.
func (c *Client) PopTransferRequest(ctx context.Context, source, claimant string) (Document, error) {
	var response struct {
		TransferRequest Document `json:"transfer_request"`
	}
	path := "/TransferRequests/actions/pop?source=" + url.QueryEscape(source)
	err := c.Do(ctx, http.MethodPost, path, Document{"claimant": claimant}, &response)
	if err != nil {
		return nil, err
	}
	return response.TransferRequest, nil
}

// PopQuery selects the population a bundle pop draws from.
type PopQuery struct {
	// site where the bundle originates; used by source-side stages
	Source string
	// site where the bundle is headed; used by destination-side stages
	Dest string
	// the status the bundle must currently hold
	Status string
}

// PopBundle claims the longest-waiting unclaimed Bundle matching the given
// query. Returns nil when no work is available.
func (c *Client) PopBundle(ctx context.Context, query PopQuery, claimant string) (Document, error) {
	values := url.Values{}
	if query.Source != "" {
		values.Set("source", query.Source)
	}
	if query.Dest != "" {
		values.Set("dest", query.Dest)
	}
	values.Set("status", query.Status)
	var response struct {
		Bundle Document `json:"bundle"`
	}
	path := "/Bundles/actions/pop?" + values.Encode()
	err := c.Do(ctx, http.MethodPost, path, Document{"claimant": claimant}, &response)
	if err != nil {
		return nil, err
	}
	return response.Bundle, nil
}

// ListBundleUUIDs returns the uuids of the Bundles matching the given
// query parameters (location, request, status, verified).
func (c *Client) ListBundleUUIDs(ctx context.Context, filters url.Values) ([]string, error) {
	path := "/Bundles"
	if len(filters) > 0 {
		path += "?" + filters.Encode()
	}
	var response struct {
		Results []string `json:"results"`
	}
	err := c.Do(ctx, http.MethodGet, path, nil, &response)
	if err != nil {
		return nil, err
	}
	return response.Results, nil
}

// GetBundle returns the Bundle with the given uuid, without its file
// listing.
func (c *Client) GetBundle(ctx context.Context, uuid string) (Document, error) {
	var doc Document
	err := c.Do(ctx, http.MethodGet, "/Bundles/"+uuid, nil, &doc)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// PatchBundle merges the given patch into a Bundle and returns the updated
// document.
func (c *Client) PatchBundle(ctx context.Context, uuid string, patch Document) (Document, error) {
	var doc Document
	err := c.Do(ctx, http.MethodPatch, "/Bundles/"+uuid, patch, &doc)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// CreateBundles asks the LTA DB to create a batch of Bundles and returns
// their uuids.
func (c *Client) CreateBundles(ctx context.Context, bundles []Document) ([]string, error) {
	var response struct {
		Bundles []string `json:"bundles"`
		Count   int      `json:"count"`
	}
	err := c.Do(ctx, http.MethodPost, "/Bundles/actions/bulk_create",
		Document{"bundles": bundles}, &response)
	if err != nil {
		return nil, err
	}
	return response.Bundles, nil
}

// DeleteBundle removes the Bundle with the given uuid.
func (c *Client) DeleteBundle(ctx context.Context, uuid string) error {
	return c.Do(ctx, http.MethodDelete, "/Bundles/"+uuid, nil, nil)
}

// CreateMetadata records the mapping from a bundle to the catalog uuids of
// the files it contains, and returns the number of records created.
func (c *Client) CreateMetadata(ctx context.Context, bundleUUID string, fileCatalogUUIDs []string) (int, error) {
	var response struct {
		Metadata []string `json:"metadata"`
		Count    int      `json:"count"`
	}
	err := c.Do(ctx, http.MethodPost, "/Metadata/actions/bulk_create", Document{
		"bundle_uuid": bundleUUID,
		"files":       fileCatalogUUIDs,
	}, &response)
	if err != nil {
		return 0, err
	}
	return response.Count, nil
}

// ListMetadata pages through the Metadata records of a bundle.
func (c *Client) ListMetadata(ctx context.Context, bundleUUID string, limit, skip int) ([]Document, error) {
	values := url.Values{}
	values.Set("bundle_uuid", bundleUUID)
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if skip > 0 {
		values.Set("skip", strconv.Itoa(skip))
	}
	var response struct {
		Results []Document `json:"results"`
	}
	err := c.Do(ctx, http.MethodGet, "/Metadata?"+values.Encode(), nil, &response)
	if err != nil {
		return nil, err
	}
	return response.Results, nil
}

// DeleteMetadata removes the listed Metadata records and returns the
// number actually deleted.
func (c *Client) DeleteMetadata(ctx context.Context, uuids []string) (int, error) {
	var response struct {
		Metadata []string `json:"metadata"`
		Count    int      `json:"count"`
	}
	err := c.Do(ctx, http.MethodPost, "/Metadata/actions/bulk_delete",
		Document{"metadata": uuids}, &response)
	if err != nil {
		return 0, err
	}
	return response.Count, nil
}

// DeleteMetadataForBundle removes every Metadata record belonging to the
// given bundle.
func (c *Client) DeleteMetadataForBundle(ctx context.Context, bundleUUID string) error {
	return c.Do(ctx, http.MethodDelete,
		"/Metadata?bundle_uuid="+url.QueryEscape(bundleUUID), nil, nil)
}

// ReportStatus upserts a heartbeat for the named instance of a component.
func (c *Client) ReportStatus(ctx context.Context, component, name string, heartbeat Document) error {
	return c.Do(ctx, http.MethodPatch, "/status/"+component,
		map[string]Document{name: heartbeat}, nil)
}

// GetStatus returns the overall health rollup.
func (c *Client) GetStatus(ctx context.Context) (map[string]string, error) {
	var response map[string]string
	err := c.Do(ctx, http.MethodGet, "/status", nil, &response)
	if err != nil {
		return nil, err
	}
	return response, nil
}

// GetComponentStatus returns the heartbeats of every instance of the named
// component.
func (c *Client) GetComponentStatus(ctx context.Context, component string) (map[string]Document, error) {
	var response map[string]Document
	err := c.Do(ctx, http.MethodGet, "/status/"+component, nil, &response)
	if err != nil {
		return nil, err
	}
	return response, nil
}

// String renders the client target for log messages.
func (c *Client) String() string {
	return fmt.Sprintf("lta-db at %s", c.restURL)
}
