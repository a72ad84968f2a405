package stages

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/wipac/lta/config"
	"github.com/wipac/lta/journal"
	"github.com/wipac/lta/worker"
)

var finisherConfig = config.Spec{
	"JOURNAL_PATH": config.Def("lta-journal.db"),
}

// Finisher closes out transfer requests. When a bundle reaches its
// deleted state, the finisher checks its siblings: if any bundle of the
// request is still in flight, the bundle goes back in the queue; once
// every sibling is terminal, the request is completed and all of its
// bundles are marked finished. Each finished bundle and completed
// request is recorded in the archival journal for the operators.
type Finisher struct {
	journal *journal.Journal
}

func NewFinisher(conf map[string]string) (*Finisher, error) {
	j, err := journal.Open(conf["JOURNAL_PATH"])
	if err != nil {
		return nil, err
	}
	return &Finisher{journal: j}, nil
}

func (f *Finisher) ExpectedConfig() config.Spec {
	return finisherConfig
}

// Close releases the finisher's journal.
func (f *Finisher) Close() error {
	return f.journal.Close()
}

func (f *Finisher) DoWorkClaim(ctx context.Context, w *worker.Worker) (worker.Outcome, error) {
	slog.Info("Asking the LTA DB for a Bundle to finish.")
	bundle, err := w.RestClient.PopBundle(ctx, popQuery(w), w.Claimant())
	if err != nil {
		return worker.Outcome{}, err
	}
	if bundle == nil {
		slog.Info("LTA DB did not provide a Bundle to finish. Going on vacation.")
		return worker.NothingClaimed(), nil
	}

	bundleID := stringField(bundle, "uuid")
	requestID := stringField(bundle, "request")
	siblingUUIDs, err := w.RestClient.ListBundleUUIDs(ctx, url.Values{"request": []string{requestID}})
	if err != nil {
		return worker.Outcome{}, err
	}
	siblings := make(map[string]worker.Document, len(siblingUUIDs))
	for _, siblingUUID := range siblingUUIDs {
		if siblingUUID == bundleID {
			siblings[siblingUUID] = bundle
			continue
		}
		sibling, err := w.RestClient.GetBundle(ctx, siblingUUID)
		if err != nil {
			return worker.Outcome{}, err
		}
		siblings[siblingUUID] = sibling
		status := stringField(sibling, "status")
		if status != "deleted" && status != "finished" {
			slog.Info(fmt.Sprintf("Bundle %s of TransferRequest %s is still '%s'; request not yet complete.",
				siblingUUID, requestID, status))
			if err := w.Defer(ctx, bundleID); err != nil {
				return worker.Outcome{}, err
			}
			return worker.NothingClaimed(), nil
		}
	}

	// every bundle of the request is terminal; close the request out
	slog.Info(fmt.Sprintf("All %d Bundles of TransferRequest %s are terminal; completing the request.",
		len(siblings), requestID))
	err = w.RestClient.PatchTransferRequest(ctx, requestID, worker.Document{
		"status":           "completed",
		"reason":           "",
		"update_timestamp": now(),
		"claimed":          false,
	})
	if err != nil {
		return worker.Outcome{}, err
	}
	for siblingUUID, sibling := range siblings {
		_, err := w.RestClient.PatchBundle(ctx, siblingUUID, worker.Document{
			"status":           w.OutputStatus,
			"reason":           "",
			"update_timestamp": now(),
			"claimed":          false,
		})
		if err != nil {
			return worker.Outcome{}, err
		}
		f.recordBundle(w, sibling, siblingUUID)
	}
	f.recordRequest(w, bundle, requestID, len(siblings))
	return worker.Successful(), nil
}

// recordBundle appends the finished bundle to the archival journal. The
// journal is an audit trail; failures are logged, never fatal.
func (f *Finisher) recordBundle(w *worker.Worker, bundle worker.Document, bundleID string) {
	err := f.journal.RecordBundle(journal.BundleRecord{
		BundleUUID: bundleID,
		Request:    stringField(bundle, "request"),
		Source:     stringField(bundle, "source"),
		Dest:       stringField(bundle, "dest"),
		Path:       stringField(bundle, "path"),
		Size:       int64Field(bundle, "size"),
		Checksum:   sha512Field(bundle),
		Status:     w.OutputStatus,
		Claimant:   w.Claimant(),
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		slog.Error(fmt.Sprintf("Unable to journal finished Bundle %s: %s", bundleID, err.Error()))
	}
}

func (f *Finisher) recordRequest(w *worker.Worker, bundle worker.Document, requestID string, numBundles int) {
	err := f.journal.RecordRequest(journal.RequestRecord{
		RequestUUID: requestID,
		Source:      stringField(bundle, "source"),
		Dest:        stringField(bundle, "dest"),
		Path:        stringField(bundle, "path"),
		NumBundles:  numBundles,
		Claimant:    w.Claimant(),
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		slog.Error(fmt.Sprintf("Unable to journal completed TransferRequest %s: %s", requestID, err.Error()))
	}
}
