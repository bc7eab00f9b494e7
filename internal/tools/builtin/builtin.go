package builtin

import (
	"agentcore/internal/tools"
)

// RegisterBuiltins registers all built-in tools to the given registry.
// guidesDir roots search_guide's lookup; an empty value falls back to
// "guides" relative to the process's working directory.
func RegisterBuiltins(r *tools.Registry, guidesDir string) error {
	if guidesDir == "" {
		guidesDir = "guides"
	}

	builtins := []tools.Tool{
		NewShellTool(),
		NewReadFileTool(),
		NewWriteFileTool(),
		NewEditFileTool(),
		NewListDirTool(),
		NewHTTPTool(),
		NewSearchGuideTool(guidesDir),
	}

	for _, tool := range builtins {
		if err := r.Register(tool); err != nil {
			return err
		}
	}

	return nil
}

// MustRegisterBuiltins registers all built-in tools and panics on error.
func MustRegisterBuiltins(r *tools.Registry, guidesDir string) {
	if err := RegisterBuiltins(r, guidesDir); err != nil {
		panic(err)
	}
}

// NewRegistryWithBuiltins creates a new registry with all built-in tools
// registered, rooting search_guide at guidesDir.
func NewRegistryWithBuiltins(guidesDir string) *tools.Registry {
	r := tools.NewRegistry()
	MustRegisterBuiltins(r, guidesDir)
	return r
}

// ToolNames returns the names of all built-in tools.
func ToolNames() []string {
	return []string{
		"shell",
		"read_file",
		"write_file",
		"edit_file",
		"list_dir",
		"http",
		"search_guide",
	}
}
