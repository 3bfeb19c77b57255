// Command bunctl is the control-channel CLI: a thin cobra wrapper over
// pkg/client that talks to a running bunctld over its Unix socket / named
// pipe. Grounded on the teacher's cmd/provisr (same start/stop/status/logs
// subcommand set, the same printJSON/table-printing idiom), rebuilt against
// bunctl's framed socket client instead of provisr's HTTP API client.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/configio"
	"github.com/bunctl/bunctl/internal/ipc"
	"github.com/bunctl/bunctl/pkg/client"
)

func main() {
	var daemonName string
	var timeout time.Duration

	root := &cobra.Command{Use: "bunctl", Short: "Control a running bunctld daemon"}
	root.PersistentFlags().StringVar(&daemonName, "name", "bunctl", "control-channel socket/pipe name")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "per-command timeout")

	newClient := func() *client.Client { return client.New(client.Config{DaemonName: daemonName}) }
	withTimeout := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), timeout)
	}

	var configPath string
	cmdStart := &cobra.Command{
		Use:   "start NAME",
		Short: "Start an app, registering it first if --config is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()
			var cfg *app.Config
			if configPath != "" {
				cfgs, err := configio.Load(configPath)
				if err != nil {
					return err
				}
				for i := range cfgs {
					if cfgs[i].Name == args[0] {
						cfg = &cfgs[i]
						break
					}
				}
				if cfg == nil {
					return fmt.Errorf("app %q not found in %s", args[0], configPath)
				}
			}
			return newClient().Start(ctx, args[0], cfg)
		},
	}
	cmdStart.Flags().StringVar(&configPath, "config", "", "path to an app config file to register from")

	cmdStop := &cobra.Command{
		Use:   "stop NAME",
		Short: "Stop an app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()
			return newClient().Stop(ctx, args[0])
		},
	}

	cmdRestart := &cobra.Command{
		Use:   "restart NAME",
		Short: "Restart an app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()
			return newClient().Restart(ctx, args[0])
		},
	}

	cmdDelete := &cobra.Command{
		Use:   "delete NAME",
		Short: "Stop (if running) and unregister an app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()
			return newClient().Delete(ctx, args[0])
		},
	}

	var detailed bool
	cmdStatus := &cobra.Command{
		Use:   "status [NAME]",
		Short: "Show status for one app, or every registered app",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()
			c := newClient()
			if len(args) == 1 {
				st, err := c.Status(ctx, args[0])
				if err != nil {
					return err
				}
				if detailed {
					printJSON(st)
				} else {
					printStatusTable([]ipc.StatusPayload{st})
				}
				return nil
			}
			sts, err := c.List(ctx)
			if err != nil {
				return err
			}
			if detailed {
				printJSON(sts)
			} else {
				printStatusTable(sts)
			}
			return nil
		},
	}
	cmdStatus.Flags().BoolVar(&detailed, "detailed", false, "print full JSON instead of a table")

	var lines int
	cmdLogs := &cobra.Command{
		Use:   "logs NAME",
		Short: "Show the tail of an app's stdout/stderr",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()
			logs, err := newClient().Logs(ctx, args[0], lines)
			if err != nil {
				return err
			}
			printLogs(logs)
			return nil
		},
	}
	cmdLogs.Flags().IntVar(&lines, "lines", 200, "number of trailing lines per stream")

	cmdEvents := &cobra.Command{
		Use:   "events [NAME]",
		Short: "Stream lifecycle events until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			filter := ipc.EventFilter{}
			if len(args) == 1 {
				filter.AppName = args[0]
			}
			events, err := newClient().Subscribe(ctx, filter)
			if err != nil {
				return err
			}
			for ev := range events {
				b, _ := json.Marshal(ev)
				fmt.Println(string(b))
			}
			return nil
		},
	}

	root.AddCommand(cmdStart, cmdStop, cmdRestart, cmdDelete, cmdStatus, cmdLogs, cmdEvents)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func printStatusTable(sts []ipc.StatusPayload) {
	if len(sts) == 0 {
		fmt.Println("No apps registered")
		return
	}
	fmt.Printf("%-20s %-10s %-8s %-10s %-8s\n", "NAME", "STATE", "PID", "RESTARTS", "UPTIME")
	fmt.Println(strings.Repeat("-", 64))
	for _, st := range sts {
		fmt.Printf("%-20s %-10s %-8d %-10d %-8s\n",
			st.Name, st.State, st.PID, st.Restarts, uptime(st))
	}
}

func uptime(st ipc.StatusPayload) string {
	if st.State != "running" || st.StartedAt.IsZero() {
		return "N/A"
	}
	d := time.Since(st.StartedAt)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func printLogs(logs ipc.LogsPayload) {
	for _, l := range logs.Stdout {
		fmt.Println(l)
	}
	for _, l := range logs.Stderr {
		fmt.Fprintln(os.Stderr, l)
	}
}
