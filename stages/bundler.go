package stages

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/wipac/lta/catalog"
	"github.com/wipac/lta/config"
	"github.com/wipac/lta/crypto"
	"github.com/wipac/lta/manifest"
	"github.com/wipac/lta/worker"
)

var bundlerConfig = config.Spec{
	"BUNDLER_OUTBOX_PATH":  config.Required,
	"BUNDLER_WORKBOX_PATH": config.Required,
}

// Bundler builds the archive artifact for a specified bundle: a ZIP of
// the bundle's warehouse files (stored, not compressed, so tape recalls
// of single members stay cheap) plus a sidecar manifest. The finished
// pair is moved from the workbox to the outbox for the stager to pick up.
type Bundler struct {
	catalog *catalog.Client
	workbox string
	outbox  string
}

func NewBundler(conf map[string]string) (*Bundler, error) {
	fc, err := fileCatalogClient(conf)
	if err != nil {
		return nil, err
	}
	return &Bundler{
		catalog: fc,
		workbox: conf["BUNDLER_WORKBOX_PATH"],
		outbox:  conf["BUNDLER_OUTBOX_PATH"],
	}, nil
}

func (b *Bundler) ExpectedConfig() config.Spec {
	return config.Merge(fileCatalogConfig, bundlerConfig)
}

func (b *Bundler) DoWorkClaim(ctx context.Context, w *worker.Worker) (worker.Outcome, error) {
	slog.Info("Asking the LTA DB for a Bundle to build.")
	bundle, err := w.RestClient.PopBundle(ctx, popQuery(w), w.Claimant())
	if err != nil {
		return worker.Outcome{}, err
	}
	if bundle == nil {
		slog.Info("LTA DB did not provide a Bundle to build. Going on vacation.")
		return worker.NothingClaimed(), nil
	}
	if err := b.buildBundle(ctx, w, bundle); err != nil {
		return worker.QuarantineNow(bundle, err.Error(), ""), nil
	}
	return worker.Successful(), nil
}

func (b *Bundler) buildBundle(ctx context.Context, w *worker.Worker, bundle worker.Document) error {
	bundleID := stringField(bundle, "uuid")
	files, err := b.manifestFiles(ctx, w, bundleID)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("Bundle %s has no Metadata records to bundle", bundleID)
	}

	sidecarName := manifest.FilenameV3(bundleID)
	sidecarPath := filepath.Join(b.workbox, sidecarName)
	err = manifest.Write(sidecarPath, &manifest.Manifest{
		UUID:        bundleID,
		Component:   "bundler",
		Version:     3,
		DateCreated: now(),
		Files:       files,
	})
	if err != nil {
		return err
	}
	zipName := bundleID + ".zip"
	workPath := filepath.Join(b.workbox, zipName)
	if err := writeArchive(workPath, files, sidecarPath); err != nil {
		return err
	}

	checksums, err := crypto.Sum(workPath)
	if err != nil {
		return err
	}
	info, err := os.Stat(workPath)
	if err != nil {
		return err
	}

	outPath := filepath.Join(b.outbox, zipName)
	if err := moveFile(workPath, outPath); err != nil {
		return err
	}
	if err := moveFile(filepath.Join(b.workbox, sidecarName), filepath.Join(b.outbox, sidecarName)); err != nil {
		return err
	}

	return w.Advance(ctx, bundleID, worker.Document{
		"bundle_path": outPath,
		"size":        info.Size(),
		"checksum": map[string]string{
			"adler32": checksums.Adler32,
			"sha512":  checksums.Sha512,
		},
		"verified": false,
	})
}

// manifestFiles resolves the bundle's Metadata records against the File
// Catalog to learn what goes into the archive.
func (b *Bundler) manifestFiles(ctx context.Context, w *worker.Worker, bundleID string) ([]manifest.File, error) {
	var files []manifest.File
	skip := 0
	for {
		page, err := w.RestClient.ListMetadata(ctx, bundleID, metadataPageSize, skip)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return files, nil
		}
		for _, row := range page {
			fileUUID := stringField(row, "file_catalog_uuid")
			record, err := b.catalog.GetFile(ctx, fileUUID)
			if err != nil {
				return nil, err
			}
			files = append(files, manifest.File{
				UUID:        fileUUID,
				LogicalName: stringField(record, "logical_name"),
				FileSize:    int64Field(record, "file_size"),
				Checksum:    manifest.Checksum{Sha512: sha512Field(record)},
			})
		}
		skip += len(page)
	}
}

// writeArchive builds the bundle ZIP. Warehouse files are stored
// uncompressed under their logical names; the manifest rides along as
// the final member so recalled bundles are self-describing.
func writeArchive(path string, files []manifest.File, sidecarPath string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	archive := zip.NewWriter(out)
	addMember := func(name string, src string) error {
		in, err := os.Open(src)
		if err != nil {
			return err
		}
		member, err := archive.CreateHeader(&zip.FileHeader{
			Name:   name,
			Method: zip.Store,
		})
		if err == nil {
			_, err = io.Copy(member, in)
		}
		in.Close()
		return err
	}
	for _, file := range files {
		if err := addMember(strings.TrimPrefix(file.LogicalName, "/"), file.LogicalName); err != nil {
			archive.Close()
			out.Close()
			return err
		}
	}
	if err := addMember(filepath.Base(sidecarPath), sidecarPath); err != nil {
		archive.Close()
		out.Close()
		return err
	}
	if err := archive.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
