package stages

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/wipac/lta/catalog"
	"github.com/wipac/lta/config"
	"github.com/wipac/lta/worker"
)

var locatorConfig = config.Spec{
	"FILE_CATALOG_PAGE_SIZE": config.Def("1000"),
}

// Locator begins the recall path. It claims a transfer request asking
// for files to come back from the archive, finds their archive locations
// in the File Catalog, and recovers which bundle archives hold them:
// every archive location is recorded as "<archive_path>:<logical_name>",
// so the distinct archive paths are exactly the bundles to retrieve.
type Locator struct {
	catalog  *catalog.Client
	pageSize int
}

func NewLocator(conf map[string]string) (*Locator, error) {
	fc, err := fileCatalogClient(conf)
	if err != nil {
		return nil, err
	}
	pageSize, err := config.Int(conf, "FILE_CATALOG_PAGE_SIZE")
	if err != nil {
		return nil, err
	}
	return &Locator{catalog: fc, pageSize: pageSize}, nil
}

func (l *Locator) ExpectedConfig() config.Spec {
	return config.Merge(fileCatalogConfig, locatorConfig)
}

func (l *Locator) DoWorkClaim(ctx context.Context, w *worker.Worker) (worker.Outcome, error) {
	slog.Info("Asking the LTA DB for a TransferRequest to locate.")
	request, err := w.RestClient.PopTransferRequest(ctx, w.SourceSite, w.Claimant())
	if err != nil {
		return worker.Outcome{}, err
	}
	if request == nil {
		slog.Info("LTA DB did not provide a TransferRequest to locate. Going on vacation.")
		return worker.NothingClaimed(), nil
	}
	if err := l.locateRequest(ctx, w, request); err != nil {
		w.QuarantineRequest(ctx, request, err.Error(), "")
		return worker.NothingClaimed(), nil
	}
	return worker.Successful(), nil
}

func (l *Locator) locateRequest(ctx context.Context, w *worker.Worker, request worker.Document) error {
	requestID := stringField(request, "uuid")
	source := stringField(request, "source")
	dest := requestDest(request)
	warehousePath := stringField(request, "path")
	slog.Info(fmt.Sprintf("Locating archives for TransferRequest %s: %s under %s", requestID, source, warehousePath))

	// count the files each distinct archive holds
	archives := make(map[string]int)
	start := 0
	total := 0
	for {
		page, err := l.catalog.FindArchivedFiles(ctx, source, warehousePath, l.pageSize, start)
		if err != nil {
			return err
		}
		for _, file := range page {
			location, found := file.ArchiveLocation(source)
			if !found {
				continue
			}
			archivePath, _, _ := strings.Cut(location.Path, ":")
			archives[archivePath]++
			total++
		}
		if len(page) < l.pageSize {
			break
		}
		start += len(page)
	}
	if total == 0 {
		return fmt.Errorf("File Catalog has no archived files under %s at site %s", warehousePath, source)
	}

	archivePaths := make([]string, 0, len(archives))
	for archivePath := range archives {
		archivePaths = append(archivePaths, archivePath)
	}
	sort.Strings(archivePaths)
	specs := make([]worker.Document, 0, len(archivePaths))
	for _, archivePath := range archivePaths {
		specs = append(specs, worker.Document{
			"type":        "Bundle",
			"status":      w.OutputStatus,
			"request":     requestID,
			"source":      source,
			"dest":        dest,
			"path":        warehousePath,
			"bundle_path": archivePath,
			"file_count":  archives[archivePath],
		})
	}
	bundleUUIDs, err := w.RestClient.CreateBundles(ctx, specs)
	if err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("Located %d archives (%s ...) holding %d files for TransferRequest %s",
		len(bundleUUIDs), path.Base(archivePaths[0]), total, requestID))
	return w.RestClient.PatchTransferRequest(ctx, requestID, worker.Document{
		"claimed":          false,
		"update_timestamp": now(),
	})
}
