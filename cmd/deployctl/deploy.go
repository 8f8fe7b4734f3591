package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	apiclient "github.com/splax/clouddeploy/pkg/api/client"
)

type streamPayload struct {
	Status   string `json:"status"`
	Logs     string `json:"logs"`
	Chunk    string `json:"chunk"`
	Terminal bool   `json:"terminal"`
}

func newDeployCmd(current func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deploy",
		Aliases: []string{"deployments"},
		Short:   "Trigger and inspect deployments",
	}

	var follow bool
	trigger := &cobra.Command{
		Use:   "trigger <project-id>",
		Short: "Start a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID(args[0])
			if err != nil {
				return err
			}
			a := current()
			return a.authed(cmd.Context(), func(token string) error {
				d, err := a.client.TriggerDeployment(cmd.Context(), token, projectID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deployment triggered: %d status=%s\n", d.ID, d.Status)
				if !follow {
					return nil
				}
				return followDeployment(cmd.Context(), a, token, d.ID, cmd.OutOrStdout())
			})
		},
	}
	trigger.Flags().BoolVarP(&follow, "follow", "f", false, "stream logs until the deployment finishes")

	var skip, limit int
	list := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List a project's deployments, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID(args[0])
			if err != nil {
				return err
			}
			a := current()
			return a.authed(cmd.Context(), func(token string) error {
				deployments, err := a.client.ListDeployments(cmd.Context(), token, projectID, skip, limit)
				if err != nil {
					return err
				}
				for _, d := range deployments {
					printDeployment(cmd, d)
				}
				return nil
			})
		},
	}
	list.Flags().IntVar(&skip, "skip", 0, "number of deployments to skip")
	list.Flags().IntVar(&limit, "limit", 5, "maximum number of deployments")

	get := &cobra.Command{
		Use:   "get <deployment-id>",
		Short: "Show one deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a := current()
			return a.authed(cmd.Context(), func(token string) error {
				d, err := a.client.GetDeployment(cmd.Context(), token, id)
				if err != nil {
					return err
				}
				printDeployment(cmd, d)
				return nil
			})
		},
	}

	logs := &cobra.Command{
		Use:   "logs <deployment-id>",
		Short: "Print a deployment's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a := current()
			return a.authed(cmd.Context(), func(token string) error {
				if follow {
					return followDeployment(cmd.Context(), a, token, id, cmd.OutOrStdout())
				}
				text, err := a.client.FetchLogs(cmd.Context(), token, id)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), text)
				return nil
			})
		},
	}
	logs.Flags().BoolVarP(&follow, "follow", "f", false, "stream logs until the deployment finishes")

	cancel := &cobra.Command{
		Use:   "cancel <deployment-id>",
		Short: "Cancel an in-flight deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a := current()
			return a.authed(cmd.Context(), func(token string) error {
				if err := a.client.CancelDeployment(cmd.Context(), token, id); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "deployment cancelled")
				return nil
			})
		},
	}

	cmd.AddCommand(trigger, list, get, logs, cancel)
	return cmd
}

// followDeployment prints the snapshot log, then each appended chunk, and
// returns once a terminal event arrives.
func followDeployment(ctx context.Context, a *app, token string, id int64, out io.Writer) error {
	var final string
	err := a.client.StreamLogs(ctx, token, id, func(ev apiclient.StreamEvent) bool {
		var p streamPayload
		if err := json.Unmarshal([]byte(ev.Data), &p); err != nil {
			return true
		}
		switch ev.Event {
		case "snapshot":
			fmt.Fprint(out, p.Logs)
		default:
			fmt.Fprint(out, p.Chunk)
		}
		if p.Terminal {
			final = p.Status
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if final != "" {
		fmt.Fprintf(out, "deployment %d finished: %s\n", id, final)
	}
	return nil
}
