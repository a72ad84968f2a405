package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wipac/lta/catalog"
	"github.com/wipac/lta/config"
	"github.com/wipac/lta/worker"
)

var pickerConfig = config.Spec{
	"FILE_CATALOG_PAGE_SIZE": config.Def("1000"),
	"MAX_BUNDLE_SIZE":        config.Def("107374182400"),
}

// Picker turns transfer requests into bundle specifications. It claims a
// TransferRequest, asks the File Catalog which files live under the
// requested warehouse path at the source site, partitions them into
// bundles no larger than MAX_BUNDLE_SIZE, and records the bundles and
// their file associations in the LTA DB.
type Picker struct {
	catalog       *catalog.Client
	pageSize      int
	maxBundleSize int64
}

func NewPicker(conf map[string]string) (*Picker, error) {
	fc, err := fileCatalogClient(conf)
	if err != nil {
		return nil, err
	}
	pageSize, err := config.Int(conf, "FILE_CATALOG_PAGE_SIZE")
	if err != nil {
		return nil, err
	}
	maxBundleSize, err := config.Int(conf, "MAX_BUNDLE_SIZE")
	if err != nil {
		return nil, err
	}
	return &Picker{
		catalog:       fc,
		pageSize:      pageSize,
		maxBundleSize: int64(maxBundleSize),
	}, nil
}

func (p *Picker) ExpectedConfig() config.Spec {
	return config.Merge(fileCatalogConfig, pickerConfig)
}

func (p *Picker) DoWorkClaim(ctx context.Context, w *worker.Worker) (worker.Outcome, error) {
	slog.Info("Asking the LTA DB for a TransferRequest to work on.")
	request, err := w.RestClient.PopTransferRequest(ctx, w.SourceSite, w.Claimant())
	if err != nil {
		return worker.Outcome{}, err
	}
	if request == nil {
		slog.Info("LTA DB did not provide a TransferRequest. Going on vacation.")
		return worker.NothingClaimed(), nil
	}
	if err := p.pickRequest(ctx, w, request); err != nil {
		w.QuarantineRequest(ctx, request, err.Error(), "")
		return worker.NothingClaimed(), nil
	}
	return worker.Successful(), nil
}

// pickRequest enumerates the request's files in the catalog and creates
// the bundle and metadata records covering them.
func (p *Picker) pickRequest(ctx context.Context, w *worker.Worker, request worker.Document) error {
	requestID := stringField(request, "uuid")
	source := stringField(request, "source")
	dest := requestDest(request)
	path := stringField(request, "path")
	slog.Info(fmt.Sprintf("Processing TransferRequest %s: %s -> %s under %s", requestID, source, dest, path))

	files, err := p.enumerateFiles(ctx, source, path)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("File Catalog has no files under %s at site %s", path, source)
	}

	// partition the files into bundles by accumulated size
	var groups [][]catalog.FileSummary
	var group []catalog.FileSummary
	var groupSize int64
	for _, file := range files {
		if len(group) > 0 && groupSize+file.FileSize > p.maxBundleSize {
			groups = append(groups, group)
			group = nil
			groupSize = 0
		}
		group = append(group, file)
		groupSize += file.FileSize
	}
	groups = append(groups, group)

	specs := make([]worker.Document, 0, len(groups))
	for _, group := range groups {
		var size int64
		for _, file := range group {
			size += file.FileSize
		}
		specs = append(specs, worker.Document{
			"type":       "Bundle",
			"status":     w.OutputStatus,
			"request":    requestID,
			"source":     source,
			"dest":       dest,
			"path":       path,
			"file_count": len(group),
			"size":       size,
		})
	}
	bundleUUIDs, err := w.RestClient.CreateBundles(ctx, specs)
	if err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("Created %d Bundles for TransferRequest %s", len(bundleUUIDs), requestID))
	for i, bundleUUID := range bundleUUIDs {
		fileUUIDs := make([]string, 0, len(groups[i]))
		for _, file := range groups[i] {
			fileUUIDs = append(fileUUIDs, file.UUID)
		}
		if _, err := w.RestClient.CreateMetadata(ctx, bundleUUID, fileUUIDs); err != nil {
			return err
		}
	}
	return w.RestClient.PatchTransferRequest(ctx, requestID, worker.Document{
		"claimed":          false,
		"update_timestamp": now(),
	})
}

func (p *Picker) enumerateFiles(ctx context.Context, source, path string) ([]catalog.FileSummary, error) {
	var files []catalog.FileSummary
	start := 0
	for {
		page, err := p.catalog.FindFiles(ctx, source, path, p.pageSize, start)
		if err != nil {
			return nil, err
		}
		files = append(files, page...)
		if len(page) < p.pageSize {
			return files, nil
		}
		start += len(page)
	}
}

// requestDest extracts the destination site of a transfer request, which
// older clients submitted as a single-element list.
func requestDest(request worker.Document) string {
	if dest, isString := request["dest"].(string); isString {
		return dest
	}
	if dests, isList := request["dest"].([]any); isList && len(dests) > 0 {
		dest, _ := dests[0].(string)
		return dest
	}
	return ""
}
