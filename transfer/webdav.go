package transfer

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/wipac/lta/config"
	"github.com/wipac/lta/crypto"
)

// WebDAV uploads bundle archives to a WebDAV server, like the dCache
// doors at DESY. Files are uploaded under a temporary name, verified by
// checksum, and then moved to their final location so a partial upload
// can never be mistaken for a finished one.
type WebDAV struct {
	destURL  string
	basePath string
	timeout  time.Duration
	http     *http.Client
	// counting semaphore capping concurrent requests to the server
	slots chan struct{}
}

// creates a WebDAV provider from its configuration:
// DEST_URL, DEST_BASE_PATH, MAX_PARALLEL, WORK_TIMEOUT_SECONDS, and the
// usual OpenID client credentials for the bearer token
func NewWebDAV(conf map[string]string) (*WebDAV, error) {
	for _, name := range []string{"DEST_URL", "DEST_BASE_PATH"} {
		if conf[name] == "" {
			return nil, &config.MissingParameterError{Name: name}
		}
	}
	maxParallel := 100
	if conf["MAX_PARALLEL"] != "" {
		var err error
		maxParallel, err = strconv.Atoi(conf["MAX_PARALLEL"])
		if err != nil {
			return nil, fmt.Errorf("configuration parameter MAX_PARALLEL: %s", err.Error())
		}
	}
	timeout := 1200 * time.Second
	if conf["WORK_TIMEOUT_SECONDS"] != "" {
		seconds, err := strconv.Atoi(conf["WORK_TIMEOUT_SECONDS"])
		if err != nil {
			return nil, fmt.Errorf("configuration parameter WORK_TIMEOUT_SECONDS: %s", err.Error())
		}
		timeout = time.Duration(seconds) * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	if conf["LTA_AUTH_OPENID_URL"] != "" {
		credentials := clientcredentials.Config{
			ClientID:     conf["CLIENT_ID"],
			ClientSecret: conf["CLIENT_SECRET"],
			TokenURL:     conf["LTA_AUTH_OPENID_URL"],
		}
		httpClient = credentials.Client(context.Background())
		httpClient.Timeout = timeout
	}
	return &WebDAV{
		destURL:  strings.TrimSuffix(conf["DEST_URL"], "/"),
		basePath: conf["DEST_BASE_PATH"],
		timeout:  timeout,
		http:     httpClient,
		slots:    make(chan struct{}, maxParallel),
	}, nil
}

func (p *WebDAV) acquire() func() {
	p.slots <- struct{}{}
	return func() { <-p.slots }
}

func (p *WebDAV) do(method, fullpath string, headers map[string]string, body *os.File) (*http.Response, error) {
	release := p.acquire()
	defer release()
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequest(method, p.destURL+fullpath, body)
	} else {
		req, err = http.NewRequest(method, p.destURL+fullpath, nil)
	}
	if err != nil {
		return nil, err
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	return p.http.Do(req)
}

// Put uploads the local file at src to the destination path under the
// archival root. The upload goes to a temporary name first; the server's
// Digest header (or a read-back hash) is compared against the local
// SHA-512 before the file is moved to its final name.
func (p *WebDAV) Put(src string, dest string) (string, error) {
	fullpath := path.Join(p.basePath, strings.TrimPrefix(dest, "/"))
	uploadpath := path.Join(path.Dir(fullpath), "_upload_"+path.Base(fullpath))

	expected, err := crypto.Sha512Sum(src)
	if err != nil {
		return "", err
	}
	if err = p.mkdirParents(path.Dir(fullpath)); err != nil {
		return "", err
	}

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	info, err := in.Stat()
	if err != nil {
		in.Close()
		return "", err
	}
	resp, err := p.do(http.MethodPut, uploadpath, map[string]string{
		"Content-Length": strconv.FormatInt(info.Size(), 10),
		"Want-Digest":    "SHA-512",
	}, in)
	in.Close()
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("PUT %s returned status %d", uploadpath, resp.StatusCode)
	}

	checksum := digestToHex(resp.Header.Get("Digest"))
	if checksum == "" {
		// no checksum in headers, so get one manually
		checksum, err = p.Checksum(strings.TrimPrefix(uploadpath, p.basePath))
		if err != nil {
			return "", err
		}
	}
	if checksum != expected {
		return "", fmt.Errorf("bad checksum for %s: expected %s, but received %s", dest, expected, checksum)
	}

	// RFC 4918 wants an absolute URI here and some servers insist on it
	resp, err = p.do("MOVE", uploadpath, map[string]string{
		"Destination": p.destURL + fullpath,
	}, nil)
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("MOVE %s returned status %d", uploadpath, resp.StatusCode)
	}
	return "webdav/" + fullpath, nil
}

// Status checks whether the file the reference points at exists on the
// server. WebDAV uploads complete synchronously, so an existing file
// means the transfer finished.
func (p *WebDAV) Status(reference string) (Status, error) {
	fullpath := strings.TrimPrefix(reference, "webdav/")
	resp, err := p.do("PROPFIND", fullpath, map[string]string{"Depth": "0"}, nil)
	if err != nil {
		return Unknown, err
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Failed, nil
	}
	if resp.StatusCode >= 300 {
		return Unknown, fmt.Errorf("PROPFIND %s returned status %d", fullpath, resp.StatusCode)
	}
	return Completed, nil
}

// Cancel removes the file the reference points at.
func (p *WebDAV) Cancel(reference string) error {
	fullpath := strings.TrimPrefix(reference, "webdav/")
	resp, err := p.do(http.MethodDelete, fullpath, nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Checksum reads the file at the destination path back from the server
// and computes its SHA-512.
func (p *WebDAV) Checksum(dest string) (string, error) {
	fullpath := path.Join(p.basePath, strings.TrimPrefix(dest, "/"))
	resp, err := p.do(http.MethodGet, fullpath, nil, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("GET %s returned status %d", fullpath, resp.StatusCode)
	}
	h := sha512.New()
	if _, err = io.Copy(h, resp.Body); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// mkdirParents issues MKCOL for each missing ancestor of the given
// collection path.
func (p *WebDAV) mkdirParents(dir string) error {
	parts := strings.Split(strings.Trim(dir, "/"), "/")
	current := ""
	for _, part := range parts {
		current = current + "/" + part
		resp, err := p.do("MKCOL", current, nil, nil)
		if err != nil {
			return err
		}
		resp.Body.Close()
		// 405 means the collection already exists
		if resp.StatusCode >= 300 && resp.StatusCode != http.StatusMethodNotAllowed {
			return fmt.Errorf("MKCOL %s returned status %d", current, resp.StatusCode)
		}
	}
	return nil
}

// digestToHex converts an RFC 3230 Digest header value, like
// "sha-512=<base64>", to the hex rendering used everywhere else.
func digestToHex(digest string) string {
	if digest == "" {
		return ""
	}
	for _, field := range strings.Split(digest, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(field), "=")
		if !found || !strings.EqualFold(name, "sha-512") {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return ""
		}
		return hex.EncodeToString(raw)
	}
	return ""
}
