package transfer

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/wipac/lta/config"
)

// Globus submits transfer tasks to the Globus transfer service through
// its command line client. The task id becomes the bundle's transfer
// reference so the verifier can wait on the same task later.
type Globus struct {
	cli          string
	sourceEP     string
	destEP       string
	pollInterval time.Duration
}

// creates a Globus provider from its configuration:
// GLOBUS_SOURCE_ENDPOINT and GLOBUS_DEST_ENDPOINT name the endpoints,
// GLOBUS_CLI_PATH overrides the client binary
func NewGlobus(conf map[string]string) (*Globus, error) {
	for _, name := range []string{"GLOBUS_SOURCE_ENDPOINT", "GLOBUS_DEST_ENDPOINT"} {
		if conf[name] == "" {
			return nil, &config.MissingParameterError{Name: name}
		}
	}
	cli := conf["GLOBUS_CLI_PATH"]
	if cli == "" {
		cli = "globus"
	}
	return &Globus{
		cli:          cli,
		sourceEP:     conf["GLOBUS_SOURCE_ENDPOINT"],
		destEP:       conf["GLOBUS_DEST_ENDPOINT"],
		pollInterval: 10 * time.Second,
	}, nil
}

// Put submits a transfer task moving src on the source endpoint to dest
// on the destination endpoint. When Globus reports an identical transfer
// already in flight, a *DuplicateError is returned so the caller can
// recover the prior task from the bundle record.
func (p *Globus) Put(src string, dest string) (string, error) {
	stdout, stderr, err := runCommand(p.cli, "transfer",
		"--format", "json",
		"--notify", "off",
		fmt.Sprintf("%s:%s", p.sourceEP, src),
		fmt.Sprintf("%s:%s", p.destEP, dest))
	if err != nil {
		if strings.Contains(stderr, "not yet completed") {
			return "", &DuplicateError{}
		}
		return "", err
	}
	var response struct {
		TaskID string `json:"task_id"`
	}
	if err = json.Unmarshal([]byte(stdout), &response); err != nil {
		return "", fmt.Errorf("parsing globus transfer output: %s", err.Error())
	}
	if response.TaskID == "" {
		return "", fmt.Errorf("globus transfer output did not contain a task_id")
	}
	return "globus/" + response.TaskID, nil
}

// Status asks Globus about the task the reference identifies.
func (p *Globus) Status(reference string) (Status, error) {
	taskID := strings.TrimPrefix(reference, "globus/")
	stdout, _, err := runCommand(p.cli, "task", "show", "--format", "json", taskID)
	if err != nil {
		return Unknown, err
	}
	var response struct {
		Status string `json:"status"`
	}
	if err = json.Unmarshal([]byte(stdout), &response); err != nil {
		return Unknown, fmt.Errorf("parsing globus task output: %s", err.Error())
	}
	switch response.Status {
	case "SUCCEEDED":
		return Completed, nil
	case "ACTIVE", "INACTIVE":
		return Pending, nil
	case "FAILED":
		return Failed, nil
	}
	return Unknown, nil
}

// Cancel asks Globus to cancel the task the reference identifies.
func (p *Globus) Cancel(reference string) error {
	taskID := strings.TrimPrefix(reference, "globus/")
	_, _, err := runCommand(p.cli, "task", "cancel", taskID)
	return err
}

// Checksum is not supported by the Globus CLI; verification happens at
// the destination site by reading the file back.
func (p *Globus) Checksum(dest string) (string, error) {
	return "", fmt.Errorf("globus cannot checksum %s; verify at the destination site", path.Base(dest))
}
