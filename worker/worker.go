// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package worker implements the shared framework for LTA components. A
// component pairs this framework with a stage handler: the framework owns
// configuration, the work and heartbeat loops, drain handling, and
// quarantine bookkeeping, while the handler owns the stage-specific work
// of each claim.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wipac/lta/client"
	"github.com/wipac/lta/config"
	"github.com/wipac/lta/metrics"
)

// Document is one LTA DB record, as handled by the stages.
type Document = map[string]any

// CommonConfig enumerates the configuration every component requires,
// regardless of stage.
var CommonConfig = config.Spec{
	"CLIENT_ID":                        config.Required,
	"CLIENT_SECRET":                    config.Required,
	"COMPONENT_NAME":                   config.Required,
	"DEST_SITE":                        config.Required,
	"HEARTBEAT_PATCH_RETRIES":          config.Def("3"),
	"HEARTBEAT_PATCH_TIMEOUT_SECONDS":  config.Def("30"),
	"HEARTBEAT_SLEEP_DURATION_SECONDS": config.Def("60"),
	"INPUT_STATUS":                     config.Required,
	"LOG_LEVEL":                        config.Def("DEBUG"),
	"LTA_AUTH_OPENID_URL":              config.Required,
	"LTA_REST_URL":                     config.Required,
	"OUTPUT_STATUS":                    config.Required,
	"PROMETHEUS_METRICS_PORT":          config.Def("8080"),
	"RUN_ONCE_AND_DIE":                 config.Def("FALSE"),
	"RUN_UNTIL_NO_WORK":                config.Def("FALSE"),
	"SOURCE_SITE":                      config.Required,
	"WORK_RETRIES":                     config.Def("3"),
	"WORK_SLEEP_DURATION_SECONDS":      config.Def("60"),
	"WORK_TIMEOUT_SECONDS":             config.Def("30"),
}

// outcomeKind enumerates the ways a work claim attempt can conclude.
type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeNothingClaimed
	outcomeQuarantine
)

// Outcome reports how a work claim attempt concluded, and tells the work
// loop what to do next.
type Outcome struct {
	kind    outcomeKind
	bundle  Document
	cause   string
	details string
}

// Successful reports that a unit of work was claimed and processed; the
// work loop claims again immediately.
func Successful() Outcome {
	return Outcome{kind: outcomeSuccess}
}

// NothingClaimed reports that no work was available; the work loop goes
// on vacation until the next cycle.
func NothingClaimed() Outcome {
	return Outcome{kind: outcomeNothingClaimed}
}

// QuarantineNow reports that the claimed bundle cannot be processed. The
// work loop quarantines the bundle with the given cause, then breaks to
// sleep. details carries any supporting output, like a failed command's
// stdout and stderr.
func QuarantineNow(bundle Document, cause string, details string) Outcome {
	return Outcome{kind: outcomeQuarantine, bundle: bundle, cause: cause, details: details}
}

// String renders the outcome kind for logs and tests.
func (o Outcome) String() string {
	switch o.kind {
	case outcomeSuccess:
		return "successful"
	case outcomeNothingClaimed:
		return "nothing-claimed"
	case outcomeQuarantine:
		return "quarantine"
	}
	return "unknown"
}

// Cause returns the quarantine cause carried by the outcome, if any.
func (o Outcome) Cause() string {
	return o.cause
}

// A Handler implements the stage-specific behavior of a component.
type Handler interface {
	// ExpectedConfig enumerates the stage's additional configuration.
	ExpectedConfig() config.Spec
	// DoWorkClaim attempts to claim and process a single unit of work.
	// An error return means the stage itself failed in a way that is
	// not scoped to any one bundle; the work loop logs it and ends the
	// cycle.
	DoWorkClaim(ctx context.Context, w *Worker) (Outcome, error)
}

// StatusProvider is implemented by stages that annotate their heartbeats
// with extra fields.
type StatusProvider interface {
	DoStatus() Document
}

// Worker drives a stage handler against the LTA DB.
type Worker struct {
	// the type of the component; picker, bundler, etc.
	Type string
	// the name of this particular instance; node16-picker, etc.
	Name string
	// uuid distinguishing this process from restarts under the same name
	InstanceUUID string
	// validated configuration for framework and stage alike
	Config map[string]string
	// client used to talk to the LTA DB
	RestClient *client.Client

	// site parameters of the stage
	SourceSite string
	DestSite   string
	// the status this stage consumes and the status it produces
	InputStatus  string
	OutputStatus string

	WorkRetries    int
	WorkTimeout    time.Duration
	WorkSleep      time.Duration
	HeartbeatSleep time.Duration
	RunOnceAndDie  bool
	RunUntilNoWork bool

	handler       Handler
	lastWorkBegin string
	lastWorkEnd   string
}

// now returns the current UTC time in the fixed-width form used for every
// timestamp field.
func now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000")
}

// New builds a Worker of the given component type around a stage handler.
// The configuration is validated against CommonConfig plus the handler's
// expected configuration, and logged with secrets redacted.
func New(componentType string, handler Handler, conf map[string]string) (*Worker, error) {
	spec := config.Merge(CommonConfig, handler.ExpectedConfig())
	if err := config.Validate(conf, spec); err != nil {
		return nil, err
	}
	workRetries, err := config.Int(conf, "WORK_RETRIES")
	if err != nil {
		return nil, err
	}
	workTimeout, err := config.Float(conf, "WORK_TIMEOUT_SECONDS")
	if err != nil {
		return nil, err
	}
	workSleep, err := config.Float(conf, "WORK_SLEEP_DURATION_SECONDS")
	if err != nil {
		return nil, err
	}
	heartbeatSleep, err := config.Float(conf, "HEARTBEAT_SLEEP_DURATION_SECONDS")
	if err != nil {
		return nil, err
	}

	timestamp := now()
	w := &Worker{
		Type:         componentType,
		Name:         conf["COMPONENT_NAME"],
		InstanceUUID: uuid.NewString(),
		Config:       conf,
		RestClient: client.New(client.Config{
			RestURL:      conf["LTA_REST_URL"],
			TokenURL:     conf["LTA_AUTH_OPENID_URL"],
			ClientID:     conf["CLIENT_ID"],
			ClientSecret: conf["CLIENT_SECRET"],
			Timeout:      time.Duration(workTimeout * float64(time.Second)),
			Retries:      workRetries,
		}),
		SourceSite:     conf["SOURCE_SITE"],
		DestSite:       conf["DEST_SITE"],
		InputStatus:    conf["INPUT_STATUS"],
		OutputStatus:   conf["OUTPUT_STATUS"],
		WorkRetries:    workRetries,
		WorkTimeout:    time.Duration(workTimeout * float64(time.Second)),
		WorkSleep:      time.Duration(workSleep * float64(time.Second)),
		HeartbeatSleep: time.Duration(heartbeatSleep * float64(time.Second)),
		RunOnceAndDie:  config.Bool(conf, "RUN_ONCE_AND_DIE"),
		RunUntilNoWork: config.Bool(conf, "RUN_UNTIL_NO_WORK"),
		handler:        handler,
		lastWorkBegin:  timestamp,
		lastWorkEnd:    timestamp,
	}

	slog.Info(fmt.Sprintf("%s '%s' is configured:", w.Type, w.Name))
	config.Log(conf)
	return w, nil
}

// Claimant returns the string this worker writes into claim and quarantine
// records.
func (w *Worker) Claimant() string {
	return fmt.Sprintf("%s-%s", w.Name, w.InstanceUUID)
}

// drainSemaphoreFilename is the canonical drain semaphore filename for a
// component type.
func drainSemaphoreFilename(componentType string) string {
	return fmt.Sprintf(".lta-%s-drain", componentType)
}

// Draining reports whether a drain semaphore for this component type
// exists in the current working directory.
func (w *Worker) Draining() bool {
	cwd, err := os.Getwd()
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(cwd, drainSemaphoreFilename(w.Type)))
	return err == nil
}

// Run drives the work loop, with heartbeats in a companion goroutine,
// until the context is canceled, the component is drained, or a one-shot
// run mode completes.
func (w *Worker) Run(ctx context.Context) error {
	heartbeatCtx, stopHeartbeats := context.WithCancel(ctx)
	defer stopHeartbeats()
	go w.statusLoop(heartbeatCtx)

	slog.Info("Starting work loop")
	for {
		if w.Draining() {
			slog.Info("Component drained; shutting down.")
			return nil
		}
		w.cycle(ctx)
		if w.RunOnceAndDie || w.RunUntilNoWork {
			return nil
		}
		select {
		case <-time.After(w.WorkSleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// cycle performs one work cycle: claims until the well runs dry, then
// records how much work there was.
func (w *Worker) cycle(ctx context.Context) {
	slog.Info(fmt.Sprintf("Starting %s work cycle", w.Type))
	w.lastWorkBegin = now()
	loadLevel := 0
	for {
		outcome, err := w.handler.DoWorkClaim(ctx, w)
		if err != nil {
			slog.Error(fmt.Sprintf("Error occurred during the %s work cycle", w.Type))
			slog.Error(fmt.Sprintf("Error was: '%s'", err.Error()))
			metrics.Failures.WithLabelValues(w.Type, "bundle", "work").Inc()
			break
		}
		switch outcome.kind {
		case outcomeSuccess:
			loadLevel++
			metrics.Successes.WithLabelValues(w.Type, "bundle", "work").Inc()
		case outcomeQuarantine:
			w.Quarantine(ctx, outcome.bundle, outcome.cause, outcome.details)
			metrics.Failures.WithLabelValues(w.Type, "bundle", "work").Inc()
		}
		if outcome.kind != outcomeSuccess || w.RunOnceAndDie {
			break
		}
	}
	metrics.LoadLevel.WithLabelValues(w.Type, "bundle", "work").Set(float64(loadLevel))
	w.lastWorkEnd = now()
	slog.Info(fmt.Sprintf("Ending %s work cycle", w.Type))
}

// statusLoop reports heartbeats until canceled or drained.
func (w *Worker) statusLoop(ctx context.Context) {
	slog.Info("Starting status loop")
	for {
		if w.Draining() {
			slog.Info("Ending status heartbeats; drain semaphore detected.")
			return
		}
		w.patchStatusHeartbeat(ctx)
		select {
		case <-time.After(w.HeartbeatSleep):
		case <-ctx.Done():
			return
		}
	}
}

// patchStatusHeartbeat reports a single heartbeat to the LTA DB.
func (w *Worker) patchStatusHeartbeat(ctx context.Context) {
	slog.Info("Sending status heartbeat")
	heartbeat := Document{
		"timestamp":                 now(),
		"last_work_begin_timestamp": w.lastWorkBegin,
		"last_work_end_timestamp":   w.lastWorkEnd,
	}
	if provider, ok := w.handler.(StatusProvider); ok {
		for field, value := range provider.DoStatus() {
			heartbeat[field] = value
		}
	}
	err := w.RestClient.ReportStatus(ctx, w.Type, w.Name, heartbeat)
	if err != nil {
		slog.Error(fmt.Sprintf("Error trying to PATCH /status/%s with heartbeat", w.Type))
		slog.Error(fmt.Sprintf("Error was: '%s'", err.Error()))
	}
}

// reason traces longer than this many lines are elided in the middle
const maxReasonLines = 500

// truncateReason keeps the head and tail of an overlong failure trace.
func truncateReason(details string) string {
	lines := strings.Split(details, "\n")
	if len(lines) <= maxReasonLines {
		return details
	}
	keep := maxReasonLines / 2
	elided := len(lines) - 2*keep
	truncated := make([]string, 0, maxReasonLines+1)
	truncated = append(truncated, lines[:keep]...)
	truncated = append(truncated, fmt.Sprintf("[... %d lines elided ...]", elided))
	truncated = append(truncated, lines[len(lines)-keep:]...)
	return strings.Join(truncated, "\n")
}

// Quarantine marks a bundle as quarantined, recording who did it and why.
// The bundle's current status is preserved in original_status so an
// operator can release it later. details carries supporting output and
// is elided in the middle when overlong. Failure to quarantine is logged
// and swallowed so the work loop can continue.
func (w *Worker) Quarantine(ctx context.Context, bundle Document, cause string, details string) error {
	bundleID, _ := bundle["uuid"].(string)
	status, _ := bundle["status"].(string)
	if original, present := bundle["original_status"].(string); present && status == "quarantined" {
		status = original
	}
	rightNow := now()
	patch := Document{
		"original_status":         status,
		"status":                  "quarantined",
		"reason":                  fmt.Sprintf("BY:%s REASON:%s", w.Claimant(), cause),
		"work_priority_timestamp": rightNow,
		"update_timestamp":        rightNow,
		"claimed":                 false,
	}
	if details != "" {
		patch["reason_details"] = truncateReason(details)
	}
	slog.Error(fmt.Sprintf("Sending Bundle %s to quarantine: %s.", bundleID, cause))
	_, err := w.RestClient.PatchBundle(ctx, bundleID, patch)
	if err != nil {
		slog.Error(fmt.Sprintf("Unable to quarantine Bundle %s: %s", bundleID, err.Error()))
	}
	return err
}

// QuarantineRequest marks a transfer request as quarantined, with the same
// bookkeeping Quarantine performs for bundles.
func (w *Worker) QuarantineRequest(ctx context.Context, request Document, cause string, details string) error {
	requestID, _ := request["uuid"].(string)
	status, _ := request["status"].(string)
	if original, present := request["original_status"].(string); present && status == "quarantined" {
		status = original
	}
	rightNow := now()
	patch := Document{
		"original_status":         status,
		"status":                  "quarantined",
		"reason":                  fmt.Sprintf("BY:%s REASON:%s", w.Claimant(), cause),
		"work_priority_timestamp": rightNow,
		"update_timestamp":        rightNow,
		"claimed":                 false,
	}
	if details != "" {
		patch["reason_details"] = truncateReason(details)
	}
	slog.Error(fmt.Sprintf("Sending TransferRequest %s to quarantine: %s.", requestID, cause))
	err := w.RestClient.PatchTransferRequest(ctx, requestID, patch)
	if err != nil {
		slog.Error(fmt.Sprintf("Unable to quarantine TransferRequest %s: %s", requestID, err.Error()))
	}
	return err
}

// Advance patches a bundle to this stage's output status, releasing the
// claim and merging in any stage-specific fields.
func (w *Worker) Advance(ctx context.Context, bundleID string, extra Document) error {
	patch := Document{
		"status":           w.OutputStatus,
		"reason":           "",
		"update_timestamp": now(),
		"claimed":          false,
	}
	for field, value := range extra {
		patch[field] = value
	}
	slog.Info(fmt.Sprintf("PATCH /Bundles/%s - '%v'", bundleID, patch))
	_, err := w.RestClient.PatchBundle(ctx, bundleID, patch)
	return err
}

// Defer un-claims a bundle without advancing it, pushing it to the back
// of the work queue.
func (w *Worker) Defer(ctx context.Context, bundleID string) error {
	rightNow := now()
	patch := Document{
		"claimed":                 false,
		"update_timestamp":        rightNow,
		"work_priority_timestamp": rightNow,
	}
	slog.Info(fmt.Sprintf("PATCH /Bundles/%s - '%v'", bundleID, patch))
	_, err := w.RestClient.PatchBundle(ctx, bundleID, patch)
	return err
}
