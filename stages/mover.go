package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wipac/lta/config"
	"github.com/wipac/lta/transfer"
	"github.com/wipac/lta/worker"
)

var moverConfig = config.Spec{
	"HPSS_AVAIL_PATH": config.Def("/usr/common/software/bin/hpss_avail"),
	"HSI_PATH":        config.Def("/usr/bin/hsi"),
	"TAPE_BASE_PATH":  config.Required,
}

// Mover runs at the NERSC site and writes staged bundle archives to the
// HPSS tape system, asking HPSS to record a SHA-512 checksum as it
// writes. The verifier checks that checksum in a later stage.
//
// See: https://docs.nersc.gov/filesystems/archive/
type Mover struct {
	hpss         *transfer.HPSS
	tapeBasePath string
}

func NewMover(conf map[string]string) (*Mover, error) {
	hpss, err := transfer.NewHPSS(conf)
	if err != nil {
		return nil, err
	}
	return &Mover{
		hpss:         hpss,
		tapeBasePath: conf["TAPE_BASE_PATH"],
	}, nil
}

func (m *Mover) ExpectedConfig() config.Spec {
	return moverConfig
}

func (m *Mover) DoWorkClaim(ctx context.Context, w *worker.Worker) (worker.Outcome, error) {
	// if the HPSS system is down, claiming work would only strand bundles
	if !m.hpss.Available() {
		slog.Error("Unable to do work; HPSS system not available")
		return worker.NothingClaimed(), nil
	}
	slog.Info("Asking the LTA DB for a Bundle to write to tape.")
	bundle, err := w.RestClient.PopBundle(ctx, destQuery(w), w.Claimant())
	if err != nil {
		return worker.Outcome{}, err
	}
	if bundle == nil {
		slog.Info("LTA DB did not provide a Bundle to write to tape. Going on vacation.")
		return worker.NothingClaimed(), nil
	}

	bundleID := stringField(bundle, "uuid")
	src := stringField(bundle, "bundle_path")
	hpssPath := tapePath(m.tapeBasePath, bundle)
	slog.Info(fmt.Sprintf("Writing Bundle %s to tape: %s -> %s", bundleID, src, hpssPath))
	if _, err := m.hpss.Put(src, hpssPath); err != nil {
		return worker.QuarantineNow(bundle, err.Error(), commandDetails(err)), nil
	}

	if err := w.Advance(ctx, bundleID, nil); err != nil {
		return worker.Outcome{}, err
	}
	return worker.Successful(), nil
}
