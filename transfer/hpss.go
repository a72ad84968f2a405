package transfer

import (
	"fmt"
	"path"
	"strings"
)

// HPSS moves bundle archives to and from the High Performance Storage
// System tape archive at NERSC through the hsi command line client.
//
// See: https://docs.nersc.gov/filesystems/archive/
type HPSS struct {
	hsi       string
	hpssAvail string
}

// creates an HPSS provider; HSI_PATH and HPSS_AVAIL_PATH override the
// client binaries
func NewHPSS(conf map[string]string) (*HPSS, error) {
	hsi := conf["HSI_PATH"]
	if hsi == "" {
		hsi = "/usr/bin/hsi"
	}
	hpssAvail := conf["HPSS_AVAIL_PATH"]
	if hpssAvail == "" {
		hpssAvail = "/usr/common/software/bin/hpss_avail"
	}
	return &HPSS{hsi: hsi, hpssAvail: hpssAvail}, nil
}

// ensure HPSS satisfies the provider facade
var _ Provider = (*HPSS)(nil)

// Available reports whether the HPSS archive system is up. Components
// check this before claiming work so a tape outage does not strand
// claimed bundles.
func (p *HPSS) Available() bool {
	_, _, err := runCommand(p.hpssAvail, "archive")
	return err == nil
}

// Put writes the local file at src to the given HPSS path, creating the
// destination directory and asking HPSS to record a SHA-512 checksum as
// it writes.
func (p *HPSS) Put(src string, dest string) (string, error) {
	// mkdir -> create a directory to store the bundle on tape
	// -p    -> create any intermediate (parent) directories as necessary
	if _, _, err := runCommand(p.hsi, "mkdir", "-p", path.Dir(dest)); err != nil {
		return "", err
	}
	// put       -> write the source path to the hpss system at the dest path
	// -c on     -> turn on the calculation of checksums by the hpss system
	// -H sha512 -> specify the SHA512 algorithm for the checksum
	if _, _, err := runCommand(p.hsi, "put", "-c", "on", "-H", "sha512", src, ":", dest); err != nil {
		return "", err
	}
	return "hpss/" + dest, nil
}

// Get reads the given HPSS path from tape to the local path at out, with
// checksum verification by the HPSS system.
func (p *HPSS) Get(out string, src string) error {
	// get   -> read the source path from the hpss system to the dest path
	// -c on -> turn on the verification of checksums by the hpss system
	_, _, err := runCommand(p.hsi, "get", "-c", "on", out, ":", src)
	return err
}

// Status reports on the file the reference points at. hsi put completes
// synchronously, so a listable file means the write finished.
func (p *HPSS) Status(reference string) (Status, error) {
	dest := strings.TrimPrefix(reference, "hpss/")
	_, _, err := runCommand(p.hsi, "ls", dest)
	if err != nil {
		if _, isCommand := err.(*CommandError); isCommand {
			return Failed, nil
		}
		return Unknown, err
	}
	return Completed, nil
}

// Cancel removes the file the reference points at from the archive.
func (p *HPSS) Cancel(reference string) error {
	dest := strings.TrimPrefix(reference, "hpss/")
	_, _, err := runCommand(p.hsi, "rm", dest)
	return err
}

// Checksum asks HPSS for the SHA-512 checksum it recorded when the file
// was written.
func (p *HPSS) Checksum(dest string) (string, error) {
	// hashlist -> list the checksums recorded for the path
	stdout, _, err := runCommand(p.hsi, "-P", "hashlist", dest)
	if err != nil {
		return "", err
	}
	checksum := parseHashList(stdout, path.Base(dest))
	if checksum == "" {
		return "", fmt.Errorf("HPSS did not record a checksum for %s", dest)
	}
	return checksum, nil
}

// Verify asks the HPSS system to rehash the file on tape and compare it
// to the checksum recorded at write time.
func (p *HPSS) Verify(dest string) error {
	// hashverify -> have HPSS compare the recorded hash to the tape contents
	// -A         -> authoritative; rehash the actual data
	_, _, err := runCommand(p.hsi, "-P", "hashverify", "-A", dest)
	return err
}

// parseHashList extracts the checksum column from hsi hashlist output.
// Lines look like:
//
//	<sha512-hex> sha512 /home/projects/icecube/path/to/bundle.zip [hsi]
func parseHashList(stdout string, basename string) string {
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if fields[1] == "sha512" && strings.HasSuffix(fields[2], basename) {
			return fields[0]
		}
	}
	return ""
}
