package stages

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/wipac/lta/config"
	"github.com/wipac/lta/manifest"
	"github.com/wipac/lta/worker"
)

var stagerConfig = config.Spec{
	"INPUT_PATH":   config.Required,
	"OUTPUT_PATH":  config.Required,
	"OUTPUT_QUOTA": config.Required,
}

// Stager moves bundle archives between two staging directories, one
// bundle per cycle, deferring when the output directory does not have
// room under its quota. It is the rate limiter between the stages on
// either side of it: the bundler cannot flood the replicator's staging
// disk, and recalled bundles cannot flood the unpacker's.
type Stager struct {
	inputPath  string
	outputPath string
	quota      int64
	// bytes observed in the output directory on the last claim
	lastOutputSize int64
}

func NewStager(conf map[string]string) (*Stager, error) {
	quota, err := config.Int(conf, "OUTPUT_QUOTA")
	if err != nil {
		return nil, err
	}
	return &Stager{
		inputPath:  conf["INPUT_PATH"],
		outputPath: conf["OUTPUT_PATH"],
		quota:      int64(quota),
	}, nil
}

func (s *Stager) ExpectedConfig() config.Spec {
	return stagerConfig
}

func (s *Stager) DoStatus() worker.Document {
	return worker.Document{
		"output_path":  s.outputPath,
		"output_quota": s.quota,
		"output_size":  s.lastOutputSize,
	}
}

func (s *Stager) DoWorkClaim(ctx context.Context, w *worker.Worker) (worker.Outcome, error) {
	slog.Info("Asking the LTA DB for a Bundle to stage.")
	bundle, err := w.RestClient.PopBundle(ctx, popQuery(w), w.Claimant())
	if err != nil {
		return worker.Outcome{}, err
	}
	if bundle == nil {
		slog.Info("LTA DB did not provide a Bundle to stage. Going on vacation.")
		return worker.NothingClaimed(), nil
	}

	bundleID := stringField(bundle, "uuid")
	bundlePath := stringField(bundle, "bundle_path")
	bundleSize := int64Field(bundle, "size")

	outputSize, err := directorySize(s.outputPath)
	if err != nil {
		return worker.Outcome{}, err
	}
	s.lastOutputSize = outputSize
	if outputSize+bundleSize > s.quota {
		slog.Info(fmt.Sprintf("Output directory %s holds %d bytes; adding %d would exceed the quota of %d. Deferring Bundle %s.",
			s.outputPath, outputSize, bundleSize, s.quota, bundleID))
		if err := w.Defer(ctx, bundleID); err != nil {
			return worker.Outcome{}, err
		}
		return worker.NothingClaimed(), nil
	}

	dest := filepath.Join(s.outputPath, filepath.Base(bundlePath))
	if err := moveFile(bundlePath, dest); err != nil {
		return worker.QuarantineNow(bundle, err.Error(), ""), nil
	}
	s.moveSidecar(bundleID, filepath.Dir(bundlePath))
	if err := w.Advance(ctx, bundleID, worker.Document{"bundle_path": dest}); err != nil {
		return worker.Outcome{}, err
	}
	return worker.Successful(), nil
}

// moveSidecar brings the bundle's manifest along, when one rides next to
// the archive.
func (s *Stager) moveSidecar(bundleID string, dir string) {
	for _, name := range []string{manifest.FilenameV3(bundleID), manifest.FilenameV2(bundleID)} {
		src := filepath.Join(dir, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := moveFile(src, filepath.Join(s.outputPath, name)); err != nil {
			slog.Error(fmt.Sprintf("Unable to move manifest sidecar %s: %s", src, err.Error()))
		}
	}
}

// directorySize totals the bytes of the regular files under a directory.
func directorySize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.Type().IsRegular() {
			info, err := entry.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}
