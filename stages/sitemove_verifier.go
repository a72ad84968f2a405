package stages

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/wipac/lta/config"
	"github.com/wipac/lta/crypto"
	"github.com/wipac/lta/transfer"
	"github.com/wipac/lta/worker"
)

var siteMoveVerifierConfig = config.Spec{
	"MYQUOTA_PATH":      config.Def("/usr/bin/myquota"),
	"TRANSFER_PROVIDER": config.Def("webdav"),
}

// SiteMoveVerifier runs at the destination site and confirms that a wide
// area transfer actually delivered the bytes: it tracks the transfer
// reference to completion, then compares the SHA-512 of the arrived
// archive against the checksum recorded when the bundle was built.
type SiteMoveVerifier struct {
	provider     transfer.Provider
	providerName string
	myquota      string
}

func NewSiteMoveVerifier(conf map[string]string) (*SiteMoveVerifier, error) {
	providerName := conf["TRANSFER_PROVIDER"]
	provider, err := transfer.New(providerName, conf)
	if err != nil {
		return nil, err
	}
	return &SiteMoveVerifier{
		provider:     provider,
		providerName: providerName,
		myquota:      conf["MYQUOTA_PATH"],
	}, nil
}

func (v *SiteMoveVerifier) ExpectedConfig() config.Spec {
	return config.Merge(siteMoveVerifierConfig, transfer.ConfigFor(v.providerName))
}

// DoStatus annotates the heartbeat with the site's disk quota report.
func (v *SiteMoveVerifier) DoStatus() worker.Document {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(v.myquota, "-G")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		slog.Info(fmt.Sprintf("Command to check quota failed: %s -G", v.myquota))
		return worker.Document{"quota": []map[string]string{}}
	}
	return worker.Document{"quota": parseMyquota(stdout.String())}
}

// parseMyquota splits the myquota report into one map per filesystem,
// keyed by the header columns.
func parseMyquota(report string) []map[string]string {
	results := make([]map[string]string, 0)
	lines := strings.Split(report, "\n")
	if len(lines) < 2 {
		return results
	}
	keys := strings.Fields(lines[0])
	for _, line := range lines[1:] {
		values := strings.Fields(line)
		if len(values) < len(keys) {
			continue
		}
		row := make(map[string]string, len(keys))
		for i, key := range keys {
			row[key] = values[i]
		}
		results = append(results, row)
	}
	return results
}

func (v *SiteMoveVerifier) DoWorkClaim(ctx context.Context, w *worker.Worker) (worker.Outcome, error) {
	slog.Info("Asking the LTA DB for a Bundle to verify.")
	bundle, err := w.RestClient.PopBundle(ctx, destQuery(w), w.Claimant())
	if err != nil {
		return worker.Outcome{}, err
	}
	if bundle == nil {
		slog.Info("LTA DB did not provide a Bundle to verify. Going on vacation.")
		return worker.NothingClaimed(), nil
	}

	bundleID := stringField(bundle, "uuid")
	reference := stringField(bundle, "transfer_reference")
	destPath := stringField(bundle, "transfer_dest_path")

	status, err := v.provider.Status(reference)
	if err != nil {
		slog.Error(fmt.Sprintf("Unable to determine status of transfer %s: %s", reference, err.Error()))
		if err := w.Defer(ctx, bundleID); err != nil {
			return worker.Outcome{}, err
		}
		return worker.NothingClaimed(), nil
	}
	switch status {
	case transfer.Pending, transfer.Unknown:
		slog.Info(fmt.Sprintf("Transfer of Bundle %s is incomplete and will not be verified at this time.", bundleID))
		if err := w.Defer(ctx, bundleID); err != nil {
			return worker.Outcome{}, err
		}
		return worker.NothingClaimed(), nil
	case transfer.Failed:
		return worker.QuarantineNow(bundle, fmt.Sprintf("Transfer %s failed at the transfer service", reference), ""), nil
	}

	expected := sha512Field(bundle)
	actual, err := v.destChecksum(destPath)
	if err != nil {
		return worker.QuarantineNow(bundle, err.Error(), commandDetails(err)), nil
	}
	if expected != actual {
		slog.Info(fmt.Sprintf("SHA512 checksum at the time of bundle creation: %s", expected))
		slog.Info(fmt.Sprintf("SHA512 checksum of the file at the destination: %s", actual))
		slog.Info("These checksums do NOT match, and the Bundle will NOT be verified.")
		cause := fmt.Sprintf("Checksum mismatch between creation and destination: %s", actual)
		return worker.QuarantineNow(bundle, cause, ""), nil
	}

	slog.Info("Destination checksum matches bundle creation checksum; the bundle is now verified.")
	err = w.Advance(ctx, bundleID, worker.Document{"bundle_path": destPath})
	if err != nil {
		return worker.Outcome{}, err
	}
	return worker.Successful(), nil
}

// destChecksum asks the transfer provider for the checksum at the
// destination, falling back to hashing the path as a local file for
// providers that cannot answer.
func (v *SiteMoveVerifier) destChecksum(destPath string) (string, error) {
	checksum, err := v.provider.Checksum(destPath)
	if err == nil {
		return checksum, nil
	}
	return crypto.Sha512Sum(destPath)
}
