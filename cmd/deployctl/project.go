package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	apiclient "github.com/splax/clouddeploy/pkg/api/client"
)

func newProjectCmd(current func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"projects"},
		Short:   "Manage projects",
	}

	var skip, limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List your projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			return a.authed(cmd.Context(), func(token string) error {
				projects, err := a.client.ListProjects(cmd.Context(), token, skip, limit)
				if err != nil {
					return err
				}
				for _, p := range projects {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\n", p.ID, p.Name, p.Status, p.GithubURL)
				}
				return nil
			})
		},
	}
	list.Flags().IntVar(&skip, "skip", 0, "number of projects to skip")
	list.Flags().IntVar(&limit, "limit", 0, "maximum number of projects")

	var createInput apiclient.ProjectInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			return a.authed(cmd.Context(), func(token string) error {
				p, err := a.client.CreateProject(cmd.Context(), token, createInput)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "project created: %d (%s)\n", p.ID, p.Name)
				return nil
			})
		},
	}
	create.Flags().StringVar(&createInput.Name, "name", "", "project name")
	create.Flags().StringVar(&createInput.GithubURL, "repo", "", "GitHub repository URL")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("repo")

	get := &cobra.Command{
		Use:   "get <project-id>",
		Short: "Show a project and its deployments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a := current()
			return a.authed(cmd.Context(), func(token string) error {
				p, err := a.client.GetProject(cmd.Context(), token, id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", p.ID, p.Name, p.Status, p.GithubURL)
				for _, d := range p.Deployments {
					printDeployment(cmd, d)
				}
				return nil
			})
		},
	}

	var updateInput apiclient.ProjectInput
	update := &cobra.Command{
		Use:   "update <project-id>",
		Short: "Change a project's name, repository or status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a := current()
			return a.authed(cmd.Context(), func(token string) error {
				p, err := a.client.UpdateProject(cmd.Context(), token, id, updateInput)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "project updated: %d (%s) %s\n", p.ID, p.Name, p.Status)
				return nil
			})
		},
	}
	update.Flags().StringVar(&updateInput.Name, "name", "", "new project name")
	update.Flags().StringVar(&updateInput.GithubURL, "repo", "", "new GitHub repository URL")
	update.Flags().StringVar(&updateInput.Status, "status", "", "new status (active|inactive|error)")

	del := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project and its deployments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a := current()
			return a.authed(cmd.Context(), func(token string) error {
				if err := a.client.DeleteProject(cmd.Context(), token, id); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "project deleted")
				return nil
			})
		},
	}

	cmd.AddCommand(list, create, get, update, del)
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func printDeployment(cmd *cobra.Command, d apiclient.Deployment) {
	completed := "-"
	if d.CompletedAt != nil {
		completed = d.CompletedAt.Format(time.RFC3339)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\n", d.ID, d.Status, d.StartedAt.Format(time.RFC3339), completed)
}
