package stages

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/wipac/lta/config"
	"github.com/wipac/lta/transfer"
	"github.com/wipac/lta/worker"
)

var replicatorConfig = config.Spec{
	"DEST_ROOT_PATH":       config.Required,
	"TRANSFER_PROVIDER":    config.Def("webdav"),
	"USE_FULL_BUNDLE_PATH": config.Def("FALSE"),
}

// Replicator moves staged bundle archives across the wide area through a
// transfer provider, recording the provider's reference on the bundle so
// the site move verifier can track the transfer to completion.
type Replicator struct {
	provider     transfer.Provider
	providerName string
	destRoot     string
	useFullPath  bool
}

func NewReplicator(conf map[string]string) (*Replicator, error) {
	providerName := conf["TRANSFER_PROVIDER"]
	provider, err := transfer.New(providerName, conf)
	if err != nil {
		return nil, err
	}
	return &Replicator{
		provider:     provider,
		providerName: providerName,
		destRoot:     conf["DEST_ROOT_PATH"],
		useFullPath:  config.Bool(conf, "USE_FULL_BUNDLE_PATH"),
	}, nil
}

func (r *Replicator) ExpectedConfig() config.Spec {
	return config.Merge(replicatorConfig, transfer.ConfigFor(r.providerName))
}

// destPath computes where the bundle lands at the destination. With
// USE_FULL_BUNDLE_PATH the warehouse path is preserved under the root, so
// the destination mirrors the warehouse layout.
func (r *Replicator) destPath(bundle worker.Document) string {
	basename := filepath.Base(stringField(bundle, "bundle_path"))
	if r.useFullPath {
		return path.Join(r.destRoot, stringField(bundle, "path"), basename)
	}
	return path.Join(r.destRoot, basename)
}

func (r *Replicator) DoWorkClaim(ctx context.Context, w *worker.Worker) (worker.Outcome, error) {
	slog.Info("Asking the LTA DB for a Bundle to replicate.")
	bundle, err := w.RestClient.PopBundle(ctx, popQuery(w), w.Claimant())
	if err != nil {
		return worker.Outcome{}, err
	}
	if bundle == nil {
		slog.Info("LTA DB did not provide a Bundle to replicate. Going on vacation.")
		return worker.NothingClaimed(), nil
	}

	bundleID := stringField(bundle, "uuid")
	src := stringField(bundle, "bundle_path")
	dest := r.destPath(bundle)
	slog.Info(fmt.Sprintf("Replicating Bundle %s: %s -> %s", bundleID, src, dest))

	reference, err := r.provider.Put(src, dest)
	if transfer.IsDuplicate(err) {
		// an earlier attempt already has this transfer in flight; hand
		// the prior reference to the verifier if the bundle carries one
		prior := stringField(bundle, "transfer_reference")
		slog.Info(fmt.Sprintf("Transfer of Bundle %s already in flight; prior reference '%s'", bundleID, prior))
		if prior != "" {
			err = w.Advance(ctx, bundleID, worker.Document{
				"transfer_reference": prior,
				"transfer_dest_path": dest,
			})
			if err != nil {
				return worker.Outcome{}, err
			}
			return worker.Successful(), nil
		}
		if err := w.Defer(ctx, bundleID); err != nil {
			return worker.Outcome{}, err
		}
		return worker.Successful(), nil
	}
	if err != nil {
		return worker.QuarantineNow(bundle, err.Error(), commandDetails(err)), nil
	}

	err = w.Advance(ctx, bundleID, worker.Document{
		"transfer_reference": reference,
		"transfer_dest_path": dest,
	})
	if err != nil {
		return worker.Outcome{}, err
	}
	return worker.Successful(), nil
}
