// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package services implements the LTA DB REST service: the bookkeeping
// server that the worker components poll for work and report their progress
// to.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humamux"
	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"

	"github.com/wipac/lta/metrics"
	"github.com/wipac/lta/store"
)

// Version numbers
var majorVersion = 0
var minorVersion = 40
var patchVersion = 0

// Version string
var version = fmt.Sprintf("%d.%d.%d", majorVersion, minorVersion, patchVersion)

// bulk bundle creation requests carry file listings, so they get a larger
// body allowance than everything else
const defaultMaxBodyBytes = 16 * 1024 * 1024

// staleness threshold for component heartbeats
const heartbeatWindow = 5 * time.Minute

// This type implements the LTA DB service, which tracks TransferRequests,
// Bundles, and Metadata as archival work moves between sites.
type Service struct {
	// name of the service
	Name string
	// service version identifier
	Version string
	// time which the service was started
	StartTime time.Time
	// port on which the service currently runs
	Port int
	// maximum number of simultaneous client connections
	MaxConnections int
	// ceiling on the size of bulk request bodies
	MaxBodyBytes int64
	// router for REST endpoints
	Router *mux.Router
	// API wrapper
	API huma.API
	// HTTP server.
	Server *http.Server
	// backing document store
	db *store.Store
}

// now returns the current UTC time in the fixed-width form used for every
// timestamp field, so that string ordering matches time ordering.
func now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000")
}

// requested counts an incoming request against the route's counter.
func requested(method, route string) {
	metrics.Requests.WithLabelValues(method, route).Inc()
}

// responded counts an outgoing response against the route's counter.
func responded(method, response, route string) {
	metrics.Responses.WithLabelValues(method, response, route).Inc()
}

// failure counts an error response and wraps the reason in the matching
// huma error.
func failure(method, route string, status int, reason string) error {
	responded(method, strconv.Itoa(status), route)
	switch status {
	case http.StatusBadRequest:
		return huma.Error400BadRequest(reason)
	case http.StatusNotFound:
		return huma.Error404NotFound(reason)
	default:
		return huma.NewError(status, reason)
	}
}

// internalError counts a 500 response and hides the details from the client.
func internalError(method, route string, err error) error {
	slog.Error(fmt.Sprintf("%s %s failed: %s", method, route, err.Error()))
	responded(method, "500", route)
	return huma.Error500InternalServerError("internal server error")
}

type RootOutput struct {
	Body struct{} `doc:"an empty object, indicating that the service is alive"`
}

// handler method for root (no authorization needed for this one)
func (service *Service) getRoot(ctx context.Context,
	input *struct{}) (*RootOutput, error) {

	requested("GET", "/")
	responded("GET", "200", "/")
	return &RootOutput{}, nil
}

// constructs an LTA DB service atop the given document store; a
// non-positive maxBodyBytes selects the default bulk body allowance
func New(db *store.Store, maxConnections int, maxBodyBytes int64) *Service {
	service := new(Service)
	service.Name = "LTA DB"
	service.Version = version
	service.Port = -1
	service.MaxConnections = maxConnections
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	service.MaxBodyBytes = maxBodyBytes
	service.db = db

	// set up routing
	service.Router = mux.NewRouter()
	service.API = humamux.New(service.Router, huma.DefaultConfig(service.Name, service.Version))
	api := service.API
	huma.Get(api, "/", service.getRoot)

	// TransferRequests
	huma.Get(api, "/TransferRequests", service.listRequests)
	huma.Post(api, "/TransferRequests", service.createRequest)
	huma.Post(api, "/TransferRequests/actions/pop", service.popRequest)
	huma.Get(api, "/TransferRequests/{uuid}", service.getRequest)
	huma.Patch(api, "/TransferRequests/{uuid}", service.patchRequest)
	huma.Delete(api, "/TransferRequests/{uuid}", service.deleteRequest)

	// Bundles
	huma.Get(api, "/Bundles", service.listBundles)
	huma.Register(api, huma.Operation{
		OperationID:  "bundles-bulk-create",
		Method:       http.MethodPost,
		Path:         "/Bundles/actions/bulk_create",
		MaxBodyBytes: service.MaxBodyBytes,
	}, service.bulkCreateBundles)
	huma.Post(api, "/Bundles/actions/bulk_delete", service.bulkDeleteBundles)
	huma.Post(api, "/Bundles/actions/bulk_update", service.bulkUpdateBundles)
	huma.Post(api, "/Bundles/actions/pop", service.popBundle)
	huma.Get(api, "/Bundles/{uuid}", service.getBundle)
	huma.Patch(api, "/Bundles/{uuid}", service.patchBundle)
	huma.Delete(api, "/Bundles/{uuid}", service.deleteBundle)

	// Metadata
	huma.Get(api, "/Metadata", service.listMetadata)
	huma.Delete(api, "/Metadata", service.deleteBundleMetadata)
	huma.Register(api, huma.Operation{
		OperationID:  "metadata-bulk-create",
		Method:       http.MethodPost,
		Path:         "/Metadata/actions/bulk_create",
		MaxBodyBytes: service.MaxBodyBytes,
	}, service.bulkCreateMetadata)
	huma.Post(api, "/Metadata/actions/bulk_delete", service.bulkDeleteMetadata)
	huma.Get(api, "/Metadata/{uuid}", service.getMetadatum)
	huma.Delete(api, "/Metadata/{uuid}", service.deleteMetadatum)

	// component status
	huma.Get(api, "/status", service.getStatus)
	huma.Get(api, "/status/{component}", service.getComponentStatus)
	huma.Patch(api, "/status/{component}", service.patchComponentStatus)

	return service
}

// starts the LTA DB service on the given bind host and port; an empty
// host binds every interface
func (service *Service) Start(host string, port int) error {
	slog.Info(fmt.Sprintf("Starting %s service on %s:%d...", service.Name, host, port))
	slog.Info(fmt.Sprintf("(Accepting up to %d connections)", service.MaxConnections))

	service.StartTime = time.Now()

	// create a listener that limits the number of incoming connections
	service.Port = port
	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	defer listener.Close()
	listener = netutil.LimitListener(listener, service.MaxConnections)

	// start the server
	service.Server = &http.Server{
		Handler: service.Router}
	err = service.Server.Serve(listener)

	// we don't report the server closing as an error
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// gracefully shuts down the service without interrupting active connections
func (service *Service) Shutdown(ctx context.Context) error {
	if service.Server != nil {
		return service.Server.Shutdown(ctx)
	}
	return nil
}

// closes down the service abruptly, freeing all resources
func (service *Service) Close() {
	if service.Server != nil {
		service.Server.Close()
	}
}
