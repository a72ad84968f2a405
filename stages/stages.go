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

// Package stages implements the stage handlers that advance bundles
// through their lifecycle. Each handler plugs into the worker framework
// and owns exactly one state transition: the picker turns transfer
// requests into specified bundles, the bundler builds archives, the
// replicator moves them across the wide area, the tape stages write and
// verify them at the destination, and the finisher closes out requests
// once every bundle has reached a terminal state.
package stages

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wipac/lta/catalog"
	"github.com/wipac/lta/client"
	"github.com/wipac/lta/config"
	"github.com/wipac/lta/transfer"
	"github.com/wipac/lta/worker"
)

// ConfigFor returns the full configuration spec of the named component
// type, so a binary can resolve its environment before constructing the
// handler. Stages that wrap a transfer provider fold in the provider's
// keys based on TRANSFER_PROVIDER.
func ConfigFor(componentType string) (config.Spec, error) {
	switch componentType {
	case "picker":
		return config.Merge(fileCatalogConfig, pickerConfig), nil
	case "bundler":
		return config.Merge(fileCatalogConfig, bundlerConfig), nil
	case "stager":
		return stagerConfig, nil
	case "replicator":
		return config.Merge(replicatorConfig, transfer.ConfigFor(envTransferProvider())), nil
	case "site_move_verifier":
		return config.Merge(siteMoveVerifierConfig, transfer.ConfigFor(envTransferProvider())), nil
	case "nersc_mover":
		return moverConfig, nil
	case "nersc_verifier":
		return config.Merge(fileCatalogConfig, verifierConfig), nil
	case "deleter":
		return deleterConfig, nil
	case "finisher":
		return finisherConfig, nil
	case "locator":
		return config.Merge(fileCatalogConfig, locatorConfig), nil
	case "nersc_retriever":
		return retrieverConfig, nil
	case "unpacker":
		return config.Merge(fileCatalogConfig, unpackerConfig), nil
	}
	return nil, fmt.Errorf("Unknown component type: '%s'", componentType)
}

// New constructs the stage handler of the named component type from a
// resolved configuration.
func New(componentType string, conf map[string]string) (worker.Handler, error) {
	switch componentType {
	case "picker":
		return NewPicker(conf)
	case "bundler":
		return NewBundler(conf)
	case "stager":
		return NewStager(conf)
	case "replicator":
		return NewReplicator(conf)
	case "site_move_verifier":
		return NewSiteMoveVerifier(conf)
	case "nersc_mover":
		return NewMover(conf)
	case "nersc_verifier":
		return NewVerifier(conf)
	case "deleter":
		return NewDeleter(conf)
	case "finisher":
		return NewFinisher(conf)
	case "locator":
		return NewLocator(conf)
	case "nersc_retriever":
		return NewRetriever(conf)
	case "unpacker":
		return NewUnpacker(conf)
	}
	return nil, fmt.Errorf("Unknown component type: '%s'", componentType)
}

// envTransferProvider peeks at the environment for the transfer provider
// selection, before the configuration has been resolved.
func envTransferProvider() string {
	provider := os.Getenv("TRANSFER_PROVIDER")
	if provider == "" {
		provider = "webdav"
	}
	return provider
}

// fileCatalogConfig holds the keys shared by every stage that talks to
// the File Catalog.
var fileCatalogConfig = config.Spec{
	"FILE_CATALOG_CLIENT_ID":     config.Required,
	"FILE_CATALOG_CLIENT_SECRET": config.Required,
	"FILE_CATALOG_REST_URL":      config.Required,
}

// fileCatalogClient builds a File Catalog client from the stage's
// configuration, sharing the worker's timeout and retry budget.
func fileCatalogClient(conf map[string]string) (*catalog.Client, error) {
	timeout, err := config.Float(conf, "WORK_TIMEOUT_SECONDS")
	if err != nil {
		return nil, err
	}
	retries, err := config.Int(conf, "WORK_RETRIES")
	if err != nil {
		return nil, err
	}
	return catalog.New(client.Config{
		RestURL:      conf["FILE_CATALOG_REST_URL"],
		TokenURL:     conf["LTA_AUTH_OPENID_URL"],
		ClientID:     conf["FILE_CATALOG_CLIENT_ID"],
		ClientSecret: conf["FILE_CATALOG_CLIENT_SECRET"],
		Timeout:      time.Duration(timeout * float64(time.Second)),
		Retries:      retries,
	}), nil
}

// popQuery builds the bundle pop filter covering both of the worker's
// sites and its input status.
func popQuery(w *worker.Worker) client.PopQuery {
	return client.PopQuery{Source: w.SourceSite, Dest: w.DestSite, Status: w.InputStatus}
}

// destQuery builds the pop filter used by stages that run at the
// destination site, where the source site does not narrow the work.
func destQuery(w *worker.Worker) client.PopQuery {
	return client.PopQuery{Dest: w.DestSite, Status: w.InputStatus}
}

// sourceQuery builds the pop filter used by stages that run at the
// source site of a recall.
func sourceQuery(w *worker.Worker) client.PopQuery {
	return client.PopQuery{Source: w.SourceSite, Status: w.InputStatus}
}

// metadata bulk operations run in pages of this many records
const metadataPageSize = 1000

func now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000")
}

func stringField(doc worker.Document, field string) string {
	value, _ := doc[field].(string)
	return value
}

// int64Field digs an integer out of a decoded JSON document, where numbers
// arrive as float64.
func int64Field(doc worker.Document, field string) int64 {
	switch value := doc[field].(type) {
	case float64:
		return int64(value)
	case int64:
		return value
	case int:
		return int64(value)
	}
	return 0
}

// sha512Field returns the bundle's recorded SHA-512 checksum.
func sha512Field(doc worker.Document) string {
	checksum, _ := doc["checksum"].(map[string]any)
	value, _ := checksum["sha512"].(string)
	return value
}

// tapePath computes where a bundle lives on tape: the tape base path, the
// bundle's warehouse path, and the archive's basename.
func tapePath(basePath string, bundle worker.Document) string {
	return filepath.Join(basePath, stringField(bundle, "path"),
		filepath.Base(stringField(bundle, "bundle_path")))
}

// commandDetails extracts the captured output of a failed subprocess for
// quarantine provenance.
func commandDetails(err error) string {
	var commandError *transfer.CommandError
	if errors.As(err, &commandError) {
		return commandError.Details()
	}
	return ""
}

// moveFile relocates a file with rename-or-copy semantics.
func moveFile(src string, dest string) error {
	local, err := transfer.NewLocal(nil)
	if err != nil {
		return err
	}
	_, err = local.Put(src, dest)
	return err
}
