package stages

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/wipac/lta/config"
	"github.com/wipac/lta/transfer"
	"github.com/wipac/lta/worker"
)

var retrieverConfig = config.Spec{
	"DEST_ROOT_PATH":  config.Required,
	"HPSS_AVAIL_PATH": config.Def("/usr/common/software/bin/hpss_avail"),
	"HSI_PATH":        config.Def("/usr/bin/hsi"),
}

// Retriever runs at the NERSC site and reads located bundle archives
// back from the HPSS tape system onto staging disk, with checksum
// verification by HPSS as it reads.
type Retriever struct {
	hpss     *transfer.HPSS
	destRoot string
}

func NewRetriever(conf map[string]string) (*Retriever, error) {
	hpss, err := transfer.NewHPSS(conf)
	if err != nil {
		return nil, err
	}
	return &Retriever{
		hpss:     hpss,
		destRoot: conf["DEST_ROOT_PATH"],
	}, nil
}

func (r *Retriever) ExpectedConfig() config.Spec {
	return retrieverConfig
}

func (r *Retriever) DoWorkClaim(ctx context.Context, w *worker.Worker) (worker.Outcome, error) {
	if !r.hpss.Available() {
		slog.Error("Unable to do work; HPSS system not available")
		return worker.NothingClaimed(), nil
	}
	slog.Info("Asking the LTA DB for a Bundle to retrieve from tape.")
	bundle, err := w.RestClient.PopBundle(ctx, sourceQuery(w), w.Claimant())
	if err != nil {
		return worker.Outcome{}, err
	}
	if bundle == nil {
		slog.Info("LTA DB did not provide a Bundle to retrieve from tape. Going on vacation.")
		return worker.NothingClaimed(), nil
	}

	bundleID := stringField(bundle, "uuid")
	src := stringField(bundle, "bundle_path")
	out := filepath.Join(r.destRoot, filepath.Base(src))
	slog.Info(fmt.Sprintf("Retrieving Bundle %s from tape: %s -> %s", bundleID, src, out))
	if err := os.MkdirAll(r.destRoot, 0755); err != nil {
		return worker.Outcome{}, err
	}
	if err := r.hpss.Get(out, src); err != nil {
		return worker.QuarantineNow(bundle, err.Error(), commandDetails(err)), nil
	}

	if err := w.Advance(ctx, bundleID, worker.Document{"bundle_path": out}); err != nil {
		return worker.Outcome{}, err
	}
	return worker.Successful(), nil
}
