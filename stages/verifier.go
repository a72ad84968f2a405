package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wipac/lta/catalog"
	"github.com/wipac/lta/config"
	"github.com/wipac/lta/transfer"
	"github.com/wipac/lta/worker"
)

var verifierConfig = config.Spec{
	"HPSS_AVAIL_PATH": config.Def("/usr/common/software/bin/hpss_avail"),
	"HSI_PATH":        config.Def("/usr/bin/hsi"),
	"TAPE_BASE_PATH":  config.Required,
}

// Verifier runs at the NERSC site and proves that a bundle on tape is the
// bundle that was built: it compares the checksum HPSS recorded at write
// time against the one recorded at bundle creation, asks HPSS to rehash
// the tape contents, registers the archive and the location of every
// contained file with the File Catalog, and retires the bundle's
// Metadata records.
type Verifier struct {
	hpss         *transfer.HPSS
	catalog      *catalog.Client
	tapeBasePath string
}

func NewVerifier(conf map[string]string) (*Verifier, error) {
	hpss, err := transfer.NewHPSS(conf)
	if err != nil {
		return nil, err
	}
	fc, err := fileCatalogClient(conf)
	if err != nil {
		return nil, err
	}
	return &Verifier{
		hpss:         hpss,
		catalog:      fc,
		tapeBasePath: conf["TAPE_BASE_PATH"],
	}, nil
}

func (v *Verifier) ExpectedConfig() config.Spec {
	return config.Merge(fileCatalogConfig, verifierConfig)
}

func (v *Verifier) DoWorkClaim(ctx context.Context, w *worker.Worker) (worker.Outcome, error) {
	if !v.hpss.Available() {
		slog.Error("Unable to do work; HPSS system not available")
		return worker.NothingClaimed(), nil
	}
	slog.Info("Asking the LTA DB for a Bundle to verify at NERSC with HPSS.")
	bundle, err := w.RestClient.PopBundle(ctx, destQuery(w), w.Claimant())
	if err != nil {
		return worker.Outcome{}, err
	}
	if bundle == nil {
		slog.Info("LTA DB did not provide a Bundle to verify at NERSC with HPSS. Going on vacation.")
		return worker.NothingClaimed(), nil
	}

	hpssPath := tapePath(v.tapeBasePath, bundle)
	if err := v.verifyOnTape(bundle, hpssPath); err != nil {
		return worker.QuarantineNow(bundle, err.Error(), commandDetails(err)), nil
	}
	if err := v.registerWithCatalog(ctx, w, bundle, hpssPath); err != nil {
		return worker.QuarantineNow(bundle, err.Error(), ""), nil
	}
	if err := w.Advance(ctx, stringField(bundle, "uuid"), nil); err != nil {
		return worker.Outcome{}, err
	}
	return worker.Successful(), nil
}

// verifyOnTape checks the checksum HPSS recorded against the bundle's and
// has HPSS rehash the tape contents.
func (v *Verifier) verifyOnTape(bundle worker.Document, hpssPath string) error {
	recorded, err := v.hpss.Checksum(hpssPath)
	if err != nil {
		return err
	}
	expected := sha512Field(bundle)
	if recorded != expected {
		slog.Info(fmt.Sprintf("SHA512 checksum at the time of bundle creation: %s", expected))
		slog.Info(fmt.Sprintf("SHA512 checksum of the file at the destination: %s", recorded))
		slog.Info("These checksums do NOT match, and the Bundle will NOT be verified.")
		return fmt.Errorf("Checksum mismatch between creation and destination: %s", recorded)
	}
	return v.hpss.Verify(hpssPath)
}

// registerWithCatalog records the archive itself in the File Catalog,
// adds an archive location for every file the bundle contains, and
// retires the bundle's Metadata records as each page is processed.
func (v *Verifier) registerWithCatalog(ctx context.Context, w *worker.Worker, bundle worker.Document, hpssPath string) error {
	bundleID := stringField(bundle, "uuid")
	slog.Info(fmt.Sprintf("POST /api/files - %s", hpssPath))
	err := v.catalog.CreateFile(ctx, catalog.Record{
		"uuid":         bundleID,
		"logical_name": hpssPath,
		"checksum":     bundle["checksum"],
		"locations": []catalog.Record{
			{
				"site":   w.DestSite,
				"path":   hpssPath,
				"hpss":   true,
				"online": false,
			},
		},
		"file_size": int64Field(bundle, "size"),
		// application-private metadata field
		"lta": catalog.Record{"date_archived": now()},
	})
	if err != nil {
		return err
	}
	for {
		page, err := w.RestClient.ListMetadata(ctx, bundleID, metadataPageSize, 0)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		rowUUIDs := make([]string, 0, len(page))
		for _, row := range page {
			fileUUID := stringField(row, "file_catalog_uuid")
			record, err := v.catalog.GetFile(ctx, fileUUID)
			if err != nil {
				return err
			}
			logicalName := stringField(record, "logical_name")
			// the catalog de-dupes locations, so replays are harmless
			err = v.catalog.AddLocation(ctx, fileUUID, catalog.Record{
				"site":    w.DestSite,
				"path":    fmt.Sprintf("%s:%s", hpssPath, logicalName),
				"archive": true,
			})
			if err != nil {
				return err
			}
			rowUUIDs = append(rowUUIDs, stringField(row, "uuid"))
		}
		deleted, err := w.RestClient.DeleteMetadata(ctx, rowUUIDs)
		if err != nil {
			return err
		}
		if deleted != len(rowUUIDs) {
			return fmt.Errorf("BAD MOJO: asked the LTA DB to delete %d Metadata records for Bundle %s, but it deleted %d",
				len(rowUUIDs), bundleID, deleted)
		}
	}
}
