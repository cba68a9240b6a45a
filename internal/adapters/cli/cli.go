// Package cli wires ports.Orchestrator directly into a cobra command tree,
// grounded in the teacher's internal/adapters/primary/cli/cli.go pattern of
// wrapping core services rather than talking to the HTTP surface.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"docmark/internal/core/domain"
	"docmark/internal/core/ports"
)

// CLI wraps a single Orchestrator for the submit/status/pages/retry/delete
// command tree.
type CLI struct {
	orchestrator ports.Orchestrator
}

func NewCLI(orchestrator ports.Orchestrator) *CLI {
	return &CLI{orchestrator: orchestrator}
}

// GetRootCommand assembles the full command tree.
func (cli *CLI) GetRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "docmark",
		Short: "docmark CLI - submit and inspect document conversion jobs",
		Long: `docmark CLI provides direct, in-process access to the conversion orchestrator.

Every command takes --owner, since the orchestrator scopes every job to an
owner ID but has no notion of authentication itself (that lives at the HTTP
boundary, not here).`,
		Version: "1.0.0",
	}

	rootCmd.AddCommand(cli.getSubmitCommand())
	rootCmd.AddCommand(cli.getStatusCommand())
	rootCmd.AddCommand(cli.getResultCommand())
	rootCmd.AddCommand(cli.getPagesCommand())
	rootCmd.AddCommand(cli.getRetryCommand())
	rootCmd.AddCommand(cli.getDeleteCommand())
	rootCmd.AddCommand(cli.getListCommand())

	return rootCmd
}

func (cli *CLI) getSubmitCommand() *cobra.Command {
	var owner, name string

	cmd := &cobra.Command{
		Use:   "submit [source]",
		Short: "Submit a document (local path or http(s) URL) for conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			jobID, err := cli.orchestrator.Submit(ctx, owner, args[0], name)
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job_id: %s\n", jobID)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner ID to scope the job under (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name for the job (defaults to the source basename)")
	cmd.MarkFlagRequired("owner")
	return cmd
}

func (cli *CLI) getStatusCommand() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Print a job's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			job, err := cli.orchestrator.GetJob(ctx, owner, args[0])
			if err != nil {
				return fmt.Errorf("get job: %w", err)
			}
			return printJSON(cmd, job)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner ID the job was submitted under (required)")
	cmd.MarkFlagRequired("owner")
	return cmd
}

func (cli *CLI) getResultCommand() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "result [job-id]",
		Short: "Print a completed job's markdown result and metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			result, err := cli.orchestrator.GetResult(ctx, owner, args[0])
			if err != nil {
				return fmt.Errorf("get result: %w", err)
			}
			return printJSON(cmd, result)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner ID the job was submitted under (required)")
	cmd.MarkFlagRequired("owner")
	return cmd
}

func (cli *CLI) getPagesCommand() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "pages [main-job-id]",
		Short: "List the per-page jobs a split main job fanned out to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			pages, err := cli.orchestrator.ListPages(ctx, owner, args[0])
			if err != nil {
				return fmt.Errorf("list pages: %w", err)
			}
			return printJSON(cmd, pages)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner ID the job was submitted under (required)")
	cmd.MarkFlagRequired("owner")
	return cmd
}

func (cli *CLI) getRetryCommand() *cobra.Command {
	var owner string
	var pageNumber int

	cmd := &cobra.Command{
		Use:   "retry [main-job-id]",
		Short: "Resubmit a failed page of a split job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			newJobID, err := cli.orchestrator.RetryPage(ctx, owner, args[0], pageNumber)
			if err != nil {
				return fmt.Errorf("retry page: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "new_job_id: %s\n", newJobID)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner ID the job was submitted under (required)")
	cmd.Flags().IntVar(&pageNumber, "page", 0, "page number to retry (required)")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("page")
	return cmd
}

func (cli *CLI) getDeleteCommand() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "delete [main-job-id]",
		Short: "Delete a job and its pages, freeing its state and result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := cli.orchestrator.Delete(ctx, owner, args[0]); err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner ID the job was submitted under (required)")
	cmd.MarkFlagRequired("owner")
	return cmd
}

func (cli *CLI) getListCommand() *cobra.Command {
	var owner, jobType, status string
	var page, pageSize int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs for an owner, optionally filtered by type and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			filter := domain.JobFilter{Type: domain.JobType(jobType), Status: domain.JobStatus(status)}
			jobs, total, err := cli.orchestrator.ListJobs(ctx, owner, filter, page, pageSize)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total: %d\n", total)
			return printJSON(cmd, jobs)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner ID to list jobs for (required)")
	cmd.Flags().StringVar(&jobType, "type", "", "filter by job type")
	cmd.Flags().StringVar(&status, "status", "", "filter by job status")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "page size")
	cmd.MarkFlagRequired("owner")
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
