package pipeline

import (
	"lessonforge/server/internal/domain"
	"lessonforge/server/internal/workflow"
)

// Fallbacks for unset job parameters. Templates may ignore any of them.
const (
	DefaultWidth     = 1024
	DefaultHeight    = 1024
	DefaultSteps     = 30
	DefaultCFGScale  = 7.0
	DefaultSampler   = "euler"
	DefaultScheduler = "normal"
)

// Variables maps a job onto the placeholder names workflow templates use.
func Variables(job domain.GenerationJob) workflow.Variables {
	vars := workflow.Variables{
		"job_id":          job.ID,
		"kind":            job.Kind,
		"usage":           job.UsageTag(),
		"content_id":      job.TargetContent(),
		"prompt":          job.Prompt,
		"negative_prompt": job.NegativePrompt,
		"width":           intOr(job.Params.Width, DefaultWidth),
		"height":          intOr(job.Params.Height, DefaultHeight),
		"steps":           intOr(job.Params.Steps, DefaultSteps),
		"cfg":             DefaultCFGScale,
		"sampler":         stringOr(job.Params.Sampler, DefaultSampler),
		"scheduler":       stringOr(job.Params.Scheduler, DefaultScheduler),
		"seed":            seedFor(job),
	}
	if job.Params.CFGScale != nil {
		vars["cfg"] = *job.Params.CFGScale
	}
	if job.AltText != nil {
		vars["alt_text"] = *job.AltText
	}
	return vars
}

// seedFor keeps reruns of the same job reproducible when no seed was given.
func seedFor(job domain.GenerationJob) int64 {
	if job.Params.Seed != nil {
		return *job.Params.Seed
	}
	return job.CreatedAt.UnixNano() & 0xffffffff
}

func intOr(v *int, fallback int) int {
	if v == nil || *v <= 0 {
		return fallback
	}
	return *v
}

func stringOr(v *string, fallback string) string {
	if v == nil || *v == "" {
		return fallback
	}
	return *v
}
