package registry

import "github.com/claudecluster/core/internal/model"

// DefaultImages returns the image configuration a freshly started worker
// registers automatically, covering the task categories a bare deployment
// should already be able to serve.
func DefaultImages() []*ImageConfig {
	return []*ImageConfig{
		{
			ID:          "claude-code-agent",
			Name:        "Claude Code Agent",
			Description: "General-purpose coding agent container",
			Image:       "claudecluster/agent",
			Tag:         "latest",
			WorkingDir:  "/workspace",
			RequiredEnv: []string{"SESSION_ID"},
			Mounts: []MountTemplate{
				{Source: "{workspace}", Target: "/workspace", ReadOnly: false},
			},
			ResourceLimits: model.ResourceLimits{
				MemoryMB:       4096,
				CPUCores:       2.0,
				TimeoutSeconds: 3600,
			},
			Categories: []model.TaskCategory{
				model.CategoryCoding,
				model.CategoryAnalysis,
				model.CategoryRefactoring,
				model.CategoryTesting,
				model.CategoryDocumentation,
			},
			Enabled: true,
		},
	}
}
