package transfer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wipac/lta/crypto"
)

// Local moves files between directories on the same filesystem. The
// stager uses it for intra-site moves, and tests use it in place of the
// network providers.
type Local struct{}

// creates a local provider; it has no configuration
func NewLocal(conf map[string]string) (*Local, error) {
	return &Local{}, nil
}

// Put moves the file at src to dest, creating parent directories as
// needed. A rename is attempted first; a cross-device move falls back to
// copy and remove.
func (p *Local) Put(src string, dest string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}
	if err := os.Rename(src, dest); err != nil {
		if err = copyFile(src, dest); err != nil {
			return "", err
		}
		if err = os.Remove(src); err != nil {
			return "", err
		}
	}
	return "local/" + dest, nil
}

// Status reports Completed when the destination file exists.
func (p *Local) Status(reference string) (Status, error) {
	dest := strings.TrimPrefix(reference, "local/")
	_, err := os.Stat(dest)
	if err != nil {
		if os.IsNotExist(err) {
			return Failed, nil
		}
		return Unknown, err
	}
	return Completed, nil
}

// Cancel is a no-op; local moves complete synchronously.
func (p *Local) Cancel(reference string) error {
	return nil
}

// Checksum computes the SHA-512 of the file at dest.
func (p *Local) Checksum(dest string) (string, error) {
	return crypto.Sha512Sum(dest)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s to %s: %s", src, dest, err.Error())
	}
	return out.Close()
}
