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

// Package transfer presents a uniform facade over the mechanisms that move
// bundle archives between sites: WebDAV, Globus, GridFTP, HPSS tape, and a
// local provider for testing.
package transfer

import (
	"fmt"

	"github.com/wipac/lta/config"
)

// This "enum" type identifies the status of a transfer operation.
type Status int

const (
	Unknown   Status = iota // unknown transfer or status not available
	Pending                 // transfer in progress
	Completed               // transfer completed successfully
	Failed                  // transfer failed
)

// A Provider moves bundle archives to a destination and answers questions
// about transfers it started. References are opaque provider-prefixed
// strings recorded on the bundle, like "globus/<task-id>".
type Provider interface {
	// begins moving the local file at src to the destination path,
	// returning a reference that identifies the transfer
	Put(src string, dest string) (string, error)
	// retrieves the status of the transfer identified by reference
	Status(reference string) (Status, error)
	// cancels the transfer identified by reference
	Cancel(reference string) error
	// returns the SHA-512 checksum of the file at the destination path
	Checksum(dest string) (string, error)
}

// creates a provider based on the configured type
func New(providerName string, conf map[string]string) (Provider, error) {
	switch providerName {
	case "local":
		return NewLocal(conf)
	case "webdav":
		return NewWebDAV(conf)
	case "globus":
		return NewGlobus(conf)
	case "gridftp":
		return NewGridFTP(conf)
	case "hpss":
		return NewHPSS(conf)
	}
	return nil, fmt.Errorf("Unknown transfer provider: '%s'", providerName)
}

// ConfigFor returns the configuration spec of the named provider, so stages
// that construct a provider can fold its keys into their own expected
// configuration.
func ConfigFor(providerName string) config.Spec {
	switch providerName {
	case "webdav":
		return config.Spec{
			"DEST_URL":       config.Required,
			"DEST_BASE_PATH": config.Required,
			"MAX_PARALLEL":   config.Def("100"),
		}
	case "globus":
		return config.Spec{
			"GLOBUS_SOURCE_ENDPOINT": config.Required,
			"GLOBUS_DEST_ENDPOINT":   config.Required,
			"GLOBUS_CLI_PATH":        config.Def("globus"),
		}
	case "gridftp":
		return config.Spec{
			"GRIDFTP_DEST_URL": config.Required,
		}
	case "hpss":
		return config.Spec{
			"HSI_PATH":        config.Def("/usr/bin/hsi"),
			"HPSS_AVAIL_PATH": config.Def("/usr/common/software/bin/hpss_avail"),
		}
	}
	return config.Spec{}
}
