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

var unpackerConfig = config.Spec{
	"UNPACKER_WORKBOX_PATH": config.Required,
}

// Unpacker ends the recall path. It extracts a retrieved bundle archive,
// verifies the size and SHA-512 checksum of every member against the
// bundle's manifest, moves each file back to its warehouse location, and
// records the restored location with the File Catalog.
type Unpacker struct {
	catalog *catalog.Client
	workbox string
}

func NewUnpacker(conf map[string]string) (*Unpacker, error) {
	fc, err := fileCatalogClient(conf)
	if err != nil {
		return nil, err
	}
	return &Unpacker{
		catalog: fc,
		workbox: conf["UNPACKER_WORKBOX_PATH"],
	}, nil
}

func (u *Unpacker) ExpectedConfig() config.Spec {
	return config.Merge(fileCatalogConfig, unpackerConfig)
}

func (u *Unpacker) DoWorkClaim(ctx context.Context, w *worker.Worker) (worker.Outcome, error) {
	slog.Info("Asking the LTA DB for a Bundle to unpack.")
	bundle, err := w.RestClient.PopBundle(ctx, destQuery(w), w.Claimant())
	if err != nil {
		return worker.Outcome{}, err
	}
	if bundle == nil {
		slog.Info("LTA DB did not provide a Bundle to unpack. Going on vacation.")
		return worker.NothingClaimed(), nil
	}
	if err := u.unpackBundle(ctx, w, bundle); err != nil {
		return worker.QuarantineNow(bundle, err.Error(), ""), nil
	}
	return worker.Successful(), nil
}

func (u *Unpacker) unpackBundle(ctx context.Context, w *worker.Worker, bundle worker.Document) error {
	bundleID := stringField(bundle, "uuid")
	bundlePath := stringField(bundle, "bundle_path")
	archiveUUID := strings.TrimSuffix(filepath.Base(bundlePath), ".zip")

	slog.Info(fmt.Sprintf("Unpacking bundle %s to %s", bundlePath, u.workbox))
	if err := extractArchive(bundlePath, u.workbox); err != nil {
		return err
	}
	m, manifestPath, err := u.readManifest(archiveUUID)
	if err != nil {
		return err
	}

	for i, file := range m.Files {
		basename := filepath.Base(file.LogicalName)
		extracted := filepath.Join(u.workbox, strings.TrimPrefix(file.LogicalName, "/"))
		slog.Info(fmt.Sprintf("File %d/%d: %s", i+1, len(m.Files), basename))
		info, err := os.Stat(extracted)
		if err != nil {
			return err
		}
		if info.Size() != file.FileSize {
			return fmt.Errorf("File:%s size Calculated:%d size Expected:%d", basename, info.Size(), file.FileSize)
		}
		if err := os.MkdirAll(filepath.Dir(file.LogicalName), 0755); err != nil {
			return err
		}
		if err := moveFile(extracted, file.LogicalName); err != nil {
			return err
		}
		checksum, err := crypto.Sha512Sum(file.LogicalName)
		if err != nil {
			return err
		}
		if checksum != file.Checksum.Sha512 {
			return fmt.Errorf("File:%s sha512 Calculated:%s sha512 Expected:%s", basename, checksum, file.Checksum.Sha512)
		}
		// the catalog de-dupes locations, so replays are harmless
		err = u.catalog.AddLocation(ctx, file.UUID, catalog.Record{
			"site": w.DestSite,
			"path": file.LogicalName,
		})
		if err != nil {
			return err
		}
	}

	slog.Info(fmt.Sprintf("Deleting bundle manifest: '%s'", manifestPath))
	if err := os.Remove(manifestPath); err != nil {
		return err
	}
	if err := removeIfPresent(bundlePath); err != nil {
		return err
	}
	return w.Advance(ctx, bundleID, nil)
}

// readManifest loads the manifest extracted from the archive, accepting
// either sidecar format.
func (u *Unpacker) readManifest(archiveUUID string) (*manifest.Manifest, string, error) {
	for _, name := range []string{manifest.FilenameV3(archiveUUID), manifest.FilenameV2(archiveUUID)} {
		path := filepath.Join(u.workbox, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		m, err := manifest.Read(path)
		return m, path, err
	}
	return nil, "", fmt.Errorf("archive %s contains no manifest", archiveUUID)
}

// extractArchive unpacks a bundle ZIP into the given directory. Member
// names are required to stay within the directory.
func extractArchive(archivePath string, dir string) error {
	archive, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer archive.Close()
	for _, member := range archive.File {
		dest := filepath.Join(dir, member.Name)
		if !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive member %s escapes the extraction directory", member.Name)
		}
		if member.FileInfo().IsDir() {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		in, err := member.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(dest)
		if err != nil {
			in.Close()
			return err
		}
		_, err = io.Copy(out, in)
		in.Close()
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}
	}
	return nil
}
