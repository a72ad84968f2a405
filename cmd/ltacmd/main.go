// The ltacmd command is the operator's view into the LTA system: it
// creates and inspects transfer requests and reports component health,
// using the same authenticated REST client the worker components use.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/wipac/lta/client"
	"github.com/wipac/lta/config"
)

var cmdConfig = config.Spec{
	"CLIENT_ID":            config.Required,
	"CLIENT_SECRET":        config.Required,
	"LTA_AUTH_OPENID_URL":  config.Required,
	"LTA_REST_URL":         config.Required,
	"WORK_TIMEOUT_SECONDS": config.Def("30"),
}

// jsonOutput switches every command from human-readable to JSON output.
var jsonOutput bool

// resolve loads the command's configuration from the environment.
func resolve() (map[string]string, error) {
	return config.FromEnvironment(cmdConfig)
}

// connect builds an authenticated LTA DB client from the environment.
func connect() (*client.Client, error) {
	conf, err := resolve()
	if err != nil {
		return nil, err
	}
	timeout, err := config.Float(conf, "WORK_TIMEOUT_SECONDS")
	if err != nil {
		return nil, err
	}
	return client.New(client.Config{
		RestURL:      conf["LTA_REST_URL"],
		TokenURL:     conf["LTA_AUTH_OPENID_URL"],
		ClientID:     conf["CLIENT_ID"],
		ClientSecret: conf["CLIENT_SECRET"],
		Timeout:      time.Duration(timeout * float64(time.Second)),
	}), nil
}

// emit renders v as indented JSON on stdout.
func emit(v any) error {
	encoded, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func stringOf(doc client.Document, field string) string {
	value, _ := doc[field].(string)
	return value
}

func newRequestLsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List all TransferRequests",
		RunE: func(cmd *cobra.Command, args []string) error {
			lta, err := connect()
			if err != nil {
				return err
			}
			requests, err := lta.ListTransferRequests(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return emit(requests)
			}
			for _, request := range requests {
				fmt.Printf("%s  %-12s %s -> %s  %s\n",
					stringOf(request, "uuid"),
					stringOf(request, "status"),
					stringOf(request, "source"),
					stringOf(request, "dest"),
					stringOf(request, "path"))
			}
			return nil
		},
	}
}

// rosterPath names the optional YAML site roster; when set, site names
// given to ltacmd are validated against it before hitting the service.
const rosterPathVar = "LTA_SITE_ROSTER_PATH"

// checkSites validates site names against the roster, when one is
// configured.
func checkSites(names ...string) error {
	path := os.Getenv(rosterPathVar)
	if path == "" {
		return nil
	}
	roster, err := config.ReadRoster(path)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, err := roster.Site(name); err != nil {
			return err
		}
	}
	return nil
}

func newRequestNewCommand() *cobra.Command {
	var source, dest, path string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a new TransferRequest",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkSites(source, dest); err != nil {
				return err
			}
			lta, err := connect()
			if err != nil {
				return err
			}
			uuid, err := lta.CreateTransferRequest(cmd.Context(), source, dest, path)
			if err != nil {
				return err
			}
			if jsonOutput {
				return emit(map[string]string{"TransferRequest": uuid})
			}
			fmt.Printf("TransferRequest %s: %s -> %s  %s\n", uuid, source, dest, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "site where the files live now")
	cmd.Flags().StringVar(&dest, "dest", "", "site where the files should be archived")
	cmd.Flags().StringVar(&path, "path", "", "data warehouse path to archive")
	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("dest")
	cmd.MarkFlagRequired("path")
	return cmd
}

// requestStatus pairs a request document with the status census of its
// bundles for display.
type requestStatus struct {
	TransferRequest client.Document `json:"transfer_request"`
	BundleStatus    map[string]int  `json:"bundle_status"`
}

func newRequestStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <uuid>",
		Short: "Show a TransferRequest and the status of its Bundles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lta, err := connect()
			if err != nil {
				return err
			}
			status, err := collectRequestStatus(cmd.Context(), lta, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return emit(status)
			}
			request := status.TransferRequest
			fmt.Printf("TransferRequest %s\n", stringOf(request, "uuid"))
			fmt.Printf("    status: %s\n", stringOf(request, "status"))
			fmt.Printf("    %s -> %s  %s\n",
				stringOf(request, "source"), stringOf(request, "dest"), stringOf(request, "path"))
			statuses := make([]string, 0, len(status.BundleStatus))
			for bundleStatus := range status.BundleStatus {
				statuses = append(statuses, bundleStatus)
			}
			sort.Strings(statuses)
			for _, bundleStatus := range statuses {
				fmt.Printf("    bundles %-12s %d\n", bundleStatus, status.BundleStatus[bundleStatus])
			}
			return nil
		},
	}
}

func collectRequestStatus(ctx context.Context, lta *client.Client, requestUUID string) (*requestStatus, error) {
	request, err := lta.GetTransferRequest(ctx, requestUUID)
	if err != nil {
		return nil, err
	}
	bundleUUIDs, err := lta.ListBundleUUIDs(ctx, map[string][]string{"request": {requestUUID}})
	if err != nil {
		return nil, err
	}
	census := make(map[string]int)
	for _, bundleUUID := range bundleUUIDs {
		bundle, err := lta.GetBundle(ctx, bundleUUID)
		if err != nil {
			return nil, err
		}
		census[stringOf(bundle, "status")]++
	}
	return &requestStatus{TransferRequest: request, BundleStatus: census}, nil
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [component]",
		Short: "Show the health of the LTA components",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lta, err := connect()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				heartbeats, err := lta.GetComponentStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return emit(heartbeats)
				}
				names := make([]string, 0, len(heartbeats))
				for name := range heartbeats {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Printf("%s  last heartbeat %s\n", name,
						stringOf(heartbeats[name], "timestamp"))
				}
				return nil
			}
			health, err := lta.GetStatus(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return emit(health)
			}
			components := make([]string, 0, len(health))
			for component := range health {
				components = append(components, component)
			}
			sort.Strings(components)
			for _, component := range components {
				fmt.Printf("%-24s %s\n", component, health[component])
			}
			return nil
		},
	}
}

func newSiteLsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List the sites in the configured roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := os.Getenv(rosterPathVar)
			if path == "" {
				return fmt.Errorf("Missing expected configuration parameter: '%s'", rosterPathVar)
			}
			roster, err := config.ReadRoster(path)
			if err != nil {
				return err
			}
			if jsonOutput {
				return emit(roster.Sites)
			}
			names := make([]string, 0, len(roster.Sites))
			for name := range roster.Sites {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				site := roster.Sites[name]
				medium := "disk"
				if site.Tape {
					medium = "tape"
				}
				fmt.Printf("%-12s %-4s %s\n", name, medium, site.ArchiveBasePath)
			}
			return nil
		},
	}
}

func newDisplayConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "display-config",
		Short: "Show the configuration ltacmd resolved from the environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := resolve()
			if err != nil {
				return err
			}
			display := make(map[string]string, len(conf))
			for name, value := range conf {
				if config.IsSecret(name) {
					value = "[REDACTED]"
				}
				display[name] = value
			}
			if jsonOutput {
				return emit(display)
			}
			names := make([]string, 0, len(display))
			for name := range display {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%s = %s\n", name, display[name])
			}
			return nil
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:           "ltacmd",
		Short:         "Operator command line tool for the Long Term Archive",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit results as JSON")

	request := &cobra.Command{
		Use:   "request",
		Short: "Work with TransferRequests",
	}
	request.AddCommand(newRequestLsCommand())
	request.AddCommand(newRequestNewCommand())
	request.AddCommand(newRequestStatusCommand())
	root.AddCommand(request)

	site := &cobra.Command{
		Use:   "site",
		Short: "Work with the site roster",
	}
	site.AddCommand(newSiteLsCommand())
	root.AddCommand(site)
	root.AddCommand(newStatusCommand())
	root.AddCommand(newDisplayConfigCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
