package stages

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/wipac/lta/config"
	"github.com/wipac/lta/manifest"
	"github.com/wipac/lta/worker"
)

var deleterConfig = config.Spec{}

// Deleter retires the staging-disk copy of a bundle once the archival
// copy has been verified, reclaiming the disk for bundles still in
// flight. Removing an already-removed artifact is not an error, so a
// crashed deleter can safely re-run.
type Deleter struct{}

func NewDeleter(conf map[string]string) (*Deleter, error) {
	return &Deleter{}, nil
}

func (d *Deleter) ExpectedConfig() config.Spec {
	return deleterConfig
}

func (d *Deleter) DoWorkClaim(ctx context.Context, w *worker.Worker) (worker.Outcome, error) {
	slog.Info("Asking the LTA DB for a Bundle to delete.")
	bundle, err := w.RestClient.PopBundle(ctx, popQuery(w), w.Claimant())
	if err != nil {
		return worker.Outcome{}, err
	}
	if bundle == nil {
		slog.Info("LTA DB did not provide a Bundle to delete. Going on vacation.")
		return worker.NothingClaimed(), nil
	}

	bundleID := stringField(bundle, "uuid")
	bundlePath := stringField(bundle, "bundle_path")
	slog.Info("Deleting staged artifact " + bundlePath)
	if err := removeIfPresent(bundlePath); err != nil {
		return worker.QuarantineNow(bundle, err.Error(), ""), nil
	}
	dir := filepath.Dir(bundlePath)
	for _, sidecar := range []string{manifest.FilenameV3(bundleID), manifest.FilenameV2(bundleID)} {
		removeIfPresent(filepath.Join(dir, sidecar))
	}

	if err := w.Advance(ctx, bundleID, nil); err != nil {
		return worker.Outcome{}, err
	}
	return worker.Successful(), nil
}

func removeIfPresent(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
