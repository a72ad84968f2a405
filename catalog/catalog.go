// Package catalog provides a client for the File Catalog, the external
// inventory of every file in the data warehouse. The LTA stages use it to
// enumerate the files a TransferRequest covers and to record archival
// locations once bundles reach tape.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/wipac/lta/client"
)

// A Record is one File Catalog document.
type Record = map[string]any

// FileSummary is the projection of a catalog record the picker works from.
type FileSummary struct {
	UUID        string `json:"uuid"`
	LogicalName string `json:"logical_name"`
	FileSize    int64  `json:"file_size"`
}

// Client is a REST client for the File Catalog service.
type Client struct {
	rest *client.Client
}

// New constructs a File Catalog client using the same credential scheme as
// the LTA DB client.
func New(config client.Config) *Client {
	return &Client{rest: client.New(config)}
}

// CreateFile registers a new file record with the catalog. If a record
// with the same uuid already exists, the existing record is patched with
// the new content instead.
func (c *Client) CreateFile(ctx context.Context, record Record) error {
	err := c.rest.Do(ctx, http.MethodPost, "/api/files", record, nil)
	if err == nil {
		return nil
	}
	statusError, isStatus := err.(*client.StatusError)
	if !isStatus || statusError.Code != http.StatusConflict {
		return err
	}
	uuid, _ := record["uuid"].(string)
	if uuid == "" {
		return err
	}
	return c.rest.Do(ctx, http.MethodPatch, "/api/files/"+uuid, record, nil)
}

// GetFile returns the catalog record with the given uuid.
func (c *Client) GetFile(ctx context.Context, uuid string) (Record, error) {
	var record Record
	err := c.rest.Do(ctx, http.MethodGet, "/api/files/"+uuid, nil, &record)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// AddLocation adds a location to an existing catalog record. The catalog
// de-duplicates locations, so recording the same location twice is safe.
func (c *Client) AddLocation(ctx context.Context, fileUUID string, location Record) error {
	body := Record{
		"locations": []Record{location},
	}
	return c.rest.Do(ctx, http.MethodPost, "/api/files/"+fileUUID+"/locations", body, nil)
}

// Location is one place the catalog knows a file to be.
type Location struct {
	Site    string `json:"site"`
	Path    string `json:"path"`
	Archive bool   `json:"archive"`
	Online  bool   `json:"online"`
}

// ArchivedFile is the projection of a catalog record the locator works
// from: the file plus every location the catalog holds for it.
type ArchivedFile struct {
	UUID        string     `json:"uuid"`
	LogicalName string     `json:"logical_name"`
	Locations   []Location `json:"locations"`
}

// ArchiveLocation returns the file's archive location at the given site,
// if the catalog holds one.
func (f ArchivedFile) ArchiveLocation(site string) (Location, bool) {
	for _, location := range f.Locations {
		if location.Archive && location.Site == site {
			return location, true
		}
	}
	return Location{}, false
}

// FindArchivedFiles pages through the catalog records under the given
// warehouse path that have an archive location at the given site.
func (c *Client) FindArchivedFiles(ctx context.Context, site, path string, limit, start int) ([]ArchivedFile, error) {
	query, err := json.Marshal(Record{
		"locations.archive": true,
		"locations.site":    site,
		"logical_name":      Record{"$regex": fmt.Sprintf("^%s", path)},
	})
	if err != nil {
		return nil, err
	}
	values := url.Values{}
	values.Set("query", string(query))
	values.Set("keys", "uuid|logical_name|locations")
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if start > 0 {
		values.Set("start", strconv.Itoa(start))
	}
	var response struct {
		Files []ArchivedFile `json:"files"`
	}
	err = c.rest.Do(ctx, http.MethodGet, "/api/files?"+values.Encode(), nil, &response)
	if err != nil {
		return nil, err
	}
	return response.Files, nil
}

// FindFiles pages through the catalog records at the given site whose
// logical names fall under the given warehouse path.
func (c *Client) FindFiles(ctx context.Context, site, path string, limit, start int) ([]FileSummary, error) {
	query, err := json.Marshal(Record{
		"locations.site": site,
		"logical_name":   Record{"$regex": fmt.Sprintf("^%s", path)},
	})
	if err != nil {
		return nil, err
	}
	values := url.Values{}
	values.Set("query", string(query))
	values.Set("keys", "uuid|logical_name|file_size")
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if start > 0 {
		values.Set("start", strconv.Itoa(start))
	}
	var response struct {
		Files []FileSummary `json:"files"`
	}
	err = c.rest.Do(ctx, http.MethodGet, "/api/files?"+values.Encode(), nil, &response)
	if err != nil {
		return nil, err
	}
	return response.Files, nil
}
