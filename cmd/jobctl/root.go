package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"lessonforge/server/internal/domain"
	"lessonforge/server/internal/infra"
	"lessonforge/server/internal/service"
)

type opener func(ctx context.Context) (*service.Services, *infra.Config, error)

func newRootCmd(open opener, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "jobctl",
		Short:         "Operate the content generation job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)

	cmd.AddCommand(
		newEnqueueCmd(open),
		newProcessCmd(open),
		newRetryCmd(open),
		newShowCmd(open),
		newListCmd(open),
		newTemplatesCmd(open),
	)
	return cmd
}

// withServices opens the service graph for the duration of fn.
func withServices(cmd *cobra.Command, open opener, fn func(*service.Services, *infra.Config) error) error {
	svc, cfg, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc, cfg)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newEnqueueCmd(open opener) *cobra.Command {
	var (
		req                     domain.NewJob
		content, usage, assetID string
		alt, sampler, scheduler string
		width, height, steps    int
		cfgScale                float64
		seed                    int64
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a generation job",
		Example: `  jobctl enqueue --kind hero --workflow basic --content lesson-42 --prompt "a robot teacher"
  jobctl enqueue --kind sticker --workflow basic --width 512 --height 512 --seed 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			req.ContentID = optionalString(content)
			req.Usage = optionalString(usage)
			req.AssetID = optionalString(assetID)
			req.AltText = optionalString(alt)
			req.Params.Sampler = optionalString(sampler)
			req.Params.Scheduler = optionalString(scheduler)
			if flags.Changed("width") {
				req.Params.Width = &width
			}
			if flags.Changed("height") {
				req.Params.Height = &height
			}
			if flags.Changed("steps") {
				req.Params.Steps = &steps
			}
			if flags.Changed("cfg") {
				req.Params.CFGScale = &cfgScale
			}
			if flags.Changed("seed") {
				req.Params.Seed = &seed
			}
			if err := req.Validate(); err != nil {
				return err
			}

			return withServices(cmd, open, func(svc *service.Services, _ *infra.Config) error {
				if !svc.Templates.Has(req.Workflow) {
					return fmt.Errorf("workflow %q is not registered (known: %s)", req.Workflow, strings.Join(svc.Templates.Names(), ", "))
				}
				job, err := svc.Jobs.Enqueue(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printJSON(cmd, job)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.ID, "id", "", "job id (generated when empty)")
	f.StringVar(&req.Kind, "kind", "", "asset kind, e.g. hero or sticker")
	f.StringVar(&req.Workflow, "workflow", "", "workflow template name")
	f.StringVar(&req.Prompt, "prompt", "", "prompt text")
	f.StringVar(&req.NegativePrompt, "negative", "", "negative prompt text")
	f.StringVar(&content, "content", "", "content item to link the asset to")
	f.StringVar(&usage, "usage", "", "link usage tag (defaults to kind)")
	f.StringVar(&assetID, "asset-id", "", "fixed asset id (derived when empty)")
	f.StringVar(&alt, "alt", "", "alt text")
	f.StringVar(&sampler, "sampler", "", "sampler name")
	f.StringVar(&scheduler, "scheduler", "", "scheduler name")
	f.IntVar(&width, "width", 0, "image width")
	f.IntVar(&height, "height", 0, "image height")
	f.IntVar(&steps, "steps", 0, "sampling steps")
	f.Float64Var(&cfgScale, "cfg", 0, "guidance scale")
	f.Int64Var(&seed, "seed", 0, "seed")
	return cmd
}

func newProcessCmd(open opener) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run one batch of queued jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(svc *service.Services, cfg *infra.Config) error {
				n := limit
				if !cmd.Flags().Changed("limit") {
					n = cfg.Worker.BatchLimit
				}
				res, err := svc.Worker.ProcessBatch(cmd.Context(), n)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum jobs to process (1-50)")
	return cmd
}

func newRetryCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Re-queue a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(svc *service.Services, _ *infra.Config) error {
				job, err := svc.Jobs.Requeue(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("retry %s: %w", args[0], err)
				}
				return printJSON(cmd, job)
			})
		},
	}
}

func newShowCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Print one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(svc *service.Services, _ *infra.Config) error {
				job, err := svc.Jobs.GetByID(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("show %s: %w", args[0], err)
				}
				return printJSON(cmd, job)
			})
		},
	}
}

func newListCmd(open opener) *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := domain.JobFilter{Status: domain.JobStatus(strings.ToLower(status)), Limit: limit}
			if filter.Status != "" && !filter.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			return withServices(cmd, open, func(svc *service.Services, _ *infra.Config) error {
				jobs, err := svc.Jobs.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for _, job := range jobs {
					lastErr := ""
					if job.LastError != nil {
						lastErr = *job.LastError
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", job.ID, job.Status, job.Workflow, job.Attempts, lastErr)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "queued, running, completed or failed")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}

func newTemplatesCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List registered workflow templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(svc *service.Services, _ *infra.Config) error {
				for _, name := range svc.Templates.Names() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
