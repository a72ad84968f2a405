// Package manifest reads and writes the sidecar metadata files that ride
// along with bundle archives. Two formats are in the wild: version 2 is a
// single JSON document, version 3 is newline-delimited JSON with a header
// line followed by one line per contained file. Readers accept either;
// the writer produces version 3.
package manifest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// A File describes one warehouse file contained in a bundle archive.
type File struct {
	Checksum    Checksum `json:"checksum"`
	FileSize    int64    `json:"file_size"`
	LogicalName string   `json:"logical_name"`
	UUID        string   `json:"uuid"`
}

// Checksum carries the digest recorded for a contained file.
type Checksum struct {
	Sha512 string `json:"sha512"`
}

// A Manifest is the sidecar metadata of one bundle archive.
type Manifest struct {
	UUID        string `json:"uuid"`
	Component   string `json:"component"`
	Version     int    `json:"version"`
	DateCreated string `json:"date_created"`
	Files       []File `json:"-"`
}

// v2Manifest is the legacy single-document format.
type v2Manifest struct {
	UUID        string `json:"uuid"`
	Component   string `json:"component"`
	Version     int    `json:"version"`
	DateCreated string `json:"date_created"`
	Files       []File `json:"files"`
}

// FilenameV3 returns the sidecar filename for a bundle.
func FilenameV3(bundleUUID string) string {
	return fmt.Sprintf("%s.metadata.ndjson", bundleUUID)
}

// FilenameV2 returns the legacy sidecar filename for a bundle.
func FilenameV2(bundleUUID string) string {
	return fmt.Sprintf("%s.metadata.json", bundleUUID)
}

// Write renders the manifest in version 3 form at the given path: a
// header line describing the bundle, then one line per contained file.
func Write(path string, m *Manifest) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	encoder := json.NewEncoder(w)
	header := *m
	header.Version = 3
	if err = encoder.Encode(&header); err != nil {
		out.Close()
		return err
	}
	for i := range m.Files {
		if err = encoder.Encode(&m.Files[i]); err != nil {
			out.Close()
			return err
		}
	}
	if err = w.Flush(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Read loads a manifest from the given path, accepting either format.
// The filename's extension selects the reader.
func Read(path string) (*Manifest, error) {
	if strings.HasSuffix(path, ".ndjson") {
		return readV3(path)
	}
	return readV2(path)
}

func readV2(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var legacy v2Manifest
	if err = json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("reading manifest %s: %s", path, err.Error())
	}
	return &Manifest{
		UUID:        legacy.UUID,
		Component:   legacy.Component,
		Version:     legacy.Version,
		DateCreated: legacy.DateCreated,
		Files:       legacy.Files,
	}, nil
}

func readV3(path string) (*Manifest, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	scanner := bufio.NewScanner(in)
	// bundle archives can contain hundreds of thousands of files
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		return nil, fmt.Errorf("reading manifest %s: missing header line", path)
	}
	var m Manifest
	if err = json.Unmarshal(scanner.Bytes(), &m); err != nil {
		return nil, fmt.Errorf("reading manifest %s: %s", path, err.Error())
	}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var file File
		if err = json.Unmarshal([]byte(line), &file); err != nil {
			return nil, fmt.Errorf("reading manifest %s: %s", path, err.Error())
		}
		m.Files = append(m.Files, file)
	}
	if err = scanner.Err(); err != nil {
		return nil, err
	}
	return &m, nil
}
