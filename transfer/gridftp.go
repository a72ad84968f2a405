package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wipac/lta/config"
	"github.com/wipac/lta/crypto"
)

// GridFTP copies bundle archives with the globus-url-copy and uberftp
// command line clients. Transfers are fire and forget; verification
// happens at the destination site.
type GridFTP struct {
	destURL string
	retries int
}

// creates a GridFTP provider; GRIDFTP_DEST_URL is the gsiftp:// root the
// bundles are copied under
func NewGridFTP(conf map[string]string) (*GridFTP, error) {
	if conf["GRIDFTP_DEST_URL"] == "" {
		return nil, &config.MissingParameterError{Name: "GRIDFTP_DEST_URL"}
	}
	destURL := conf["GRIDFTP_DEST_URL"]
	if !supportedAddress(destURL) {
		return nil, fmt.Errorf("address type not supported for address %s", destURL)
	}
	return &GridFTP{
		destURL: strings.TrimSuffix(destURL, "/"),
		retries: 5,
	}, nil
}

// supportedAddress rejects address types globus-url-copy cannot serve.
func supportedAddress(address string) bool {
	scheme, _, found := strings.Cut(address, "://")
	if !found {
		return false
	}
	return scheme == "gsiftp" || scheme == "ftp"
}

// Put copies the local file at src to the destination path on the ftp
// server, creating intermediate directories.
func (p *GridFTP) Put(src string, dest string) (string, error) {
	address := p.destURL + "/" + strings.TrimPrefix(dest, "/")
	// -cd creates destination directories as needed
	_, _, err := runCommand("globus-url-copy", "-cd", "file:"+src, address)
	if err != nil {
		return "", err
	}
	return "gridftp/" + address, nil
}

// Status checks that the file the reference points at exists on the ftp
// server. globus-url-copy completes synchronously, so existence means
// the transfer finished.
func (p *GridFTP) Status(reference string) (Status, error) {
	address := strings.TrimPrefix(reference, "gridftp/")
	_, _, err := runCommand("uberftp", "-retry", strconv.Itoa(p.retries), "-size", address)
	if err != nil {
		if _, isCommand := err.(*CommandError); isCommand {
			return Failed, nil
		}
		return Unknown, err
	}
	return Completed, nil
}

// Cancel removes the file the reference points at from the ftp server.
func (p *GridFTP) Cancel(reference string) error {
	address := strings.TrimPrefix(reference, "gridftp/")
	_, _, err := runCommand("uberftp", "-retry", strconv.Itoa(p.retries), "-rm", address)
	return err
}

// Checksum is faked by redownloading the file and checksumming that.
func (p *GridFTP) Checksum(dest string) (string, error) {
	address := p.destURL + "/" + strings.TrimPrefix(dest, "/")
	tmpdir, err := os.MkdirTemp("", "gridftp")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpdir)
	tmp := filepath.Join(tmpdir, "dest")
	if _, _, err = runCommand("globus-url-copy", address, "file:"+tmp); err != nil {
		return "", err
	}
	return crypto.Sha512Sum(tmp)
}
