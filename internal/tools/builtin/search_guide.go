package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"agentcore/internal/tools"
)

// SearchGuideArgs defines the parameters for the search_guide tool.
type SearchGuideArgs struct {
	Query string `json:"query" jsonschema:"description=Search keywords (e.g. video, investment analysis, website, music),required"`
	Read  bool   `json:"read" jsonschema:"description=true (default): return the best match's full content too; false: list matches only"`
}

// SearchGuideTool finds workflow/recipe documents under a guides
// directory before a complex task begins, mirroring the original
// engine's pattern of actions declaring a guide for the AI to consult.
type SearchGuideTool struct {
	tools.BaseTool
	// Dir is the directory search_guide walks for *.md guide files.
	Dir string
	// MaxMatches bounds how many candidates are listed.
	MaxMatches int
}

// NewSearchGuideTool creates a search_guide tool rooted at dir.
func NewSearchGuideTool(dir string) *SearchGuideTool {
	return &SearchGuideTool{
		BaseTool: tools.BaseTool{
			ToolName:        "search_guide",
			ToolDescription: "Search for a guide (workflow/recipe) before starting a complex task. Video production, website builds, investment analysis, and similar tasks may have a step-by-step guide; search before you begin.",
			ToolParameters:  tools.BuildSchema(SearchGuideArgs{}),
		},
		Dir:        dir,
		MaxMatches: 10,
	}
}

type guideMatch struct {
	path  string
	title string
}

// Execute searches Dir for guide files whose name or contents match
// query, returning a match list and — when read is true, the default —
// the best match's content attached via ToolResult.Guide.
func (t *SearchGuideTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return tools.ToolResult{}, tools.NewInvalidArgsError(t.Name(), "query is required", nil)
	}

	read := true
	if v, ok := args["read"].(bool); ok {
		read = v
	}

	select {
	case <-ctx.Done():
		return tools.ToolResult{}, ctx.Err()
	default:
	}

	matches, err := t.find(query)
	if err != nil {
		return tools.NewErrorResult(fmt.Sprintf("search_guide: %v", err)), nil
	}

	if len(matches) == 0 {
		return tools.NewSuccessResult(fmt.Sprintf("no guide found for %q", query)), nil
	}

	var listing strings.Builder
	fmt.Fprintf(&listing, "found %d guide(s) for %q:\n", len(matches), query)
	for _, m := range matches {
		fmt.Fprintf(&listing, "- %s (%s)\n", m.title, m.path)
	}

	if !read {
		return tools.NewSuccessResult(strings.TrimSpace(listing.String())), nil
	}

	best := matches[0]
	content, err := os.ReadFile(best.path)
	if err != nil {
		return tools.NewErrorResult(fmt.Sprintf("search_guide: read %s: %v", best.path, err)), nil
	}

	return tools.NewResultWithGuide(strings.TrimSpace(listing.String()), string(content)), nil
}

// find walks Dir for *.md files whose name or content contains query,
// case-insensitively, sorted by title; Execute reads the first match.
func (t *SearchGuideTool) find(query string) ([]guideMatch, error) {
	if _, err := os.Stat(t.Dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	needle := strings.ToLower(query)

	var matches []guideMatch
	err := filepath.WalkDir(t.Dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		name := strings.ToLower(d.Name())
		if strings.Contains(name, needle) {
			matches = append(matches, guideMatch{path: path, title: d.Name()})
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr == nil && strings.Contains(strings.ToLower(string(data)), needle) {
			matches = append(matches, guideMatch{path: path, title: d.Name()})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].title < matches[j].title })
	if len(matches) > t.MaxMatches {
		matches = matches[:t.MaxMatches]
	}
	return matches, nil
}
