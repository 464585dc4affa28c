package workspace

import (
	"context"
	"fmt"
	"strings"

	"github.com/Strob0t/ForgeBot/internal/domain/action"
)

// Committer commits and publishes the workspace.
type Committer interface {
	CommitPush(ctx context.Context, message string) (string, error)
}

// ModelSwitcher changes the default model for later requests.
type ModelSwitcher interface {
	SwitchModel(ctx context.Context, name string) error
}

type pathArgs struct {
	Path string `json:"path" jsonschema:"required,description=Workspace-relative file path"`
}

type writeArgs struct {
	Path    string `json:"path" jsonschema:"required,description=Workspace-relative file path"`
	Content string `json:"content" jsonschema:"required,description=Complete new file content"`
}

type editArgs struct {
	Path    string `json:"path" jsonschema:"required,description=Workspace-relative file path"`
	OldText string `json:"old_text" jsonschema:"required,description=Exact text to replace; must occur once"`
	NewText string `json:"new_text" jsonschema:"required,description=Replacement text"`
}

type listArgs struct {
	Dir string `json:"dir,omitempty" jsonschema:"description=Directory to list; defaults to the workspace root"`
}

type searchArgs struct {
	Query string `json:"query" jsonschema:"required,description=Case-insensitive text to find"`
	Dir   string `json:"dir,omitempty" jsonschema:"description=Directory to search; defaults to the workspace root"`
}

type commitArgs struct {
	Message string `json:"message,omitempty" jsonschema:"description=Commit message"`
}

type switchArgs struct {
	Model string `json:"model" jsonschema:"required,description=Model identifier to use from now on"`
}

// Actions returns the reference tool set. git and models may be nil, which
// leaves commit_push and switch_model unregistered.
func Actions(ws *Workspace, git Committer, models ModelSwitcher) []action.Registration {
	regs := []action.Registration{
		{
			Name:        action.FileExists,
			Description: "Check whether a file exists in the workspace.",
			SideEffect:  action.ReadOnly,
			Params:      []action.Param{{Name: "path", Type: "string", Required: true}},
			Schema:      action.SchemaFor(&pathArgs{}),
			PathParam:   "path",
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				p := str(args, "path")
				ok, err := ws.Exists(p)
				if err != nil {
					return "", err
				}
				if ok {
					return p + " exists", nil
				}
				return p + " does not exist", nil
			},
		},
		{
			Name:        action.ReadFile,
			Description: "Read a file from the workspace.",
			SideEffect:  action.ReadOnly,
			Params:      []action.Param{{Name: "path", Type: "string", Required: true}},
			Schema:      action.SchemaFor(&pathArgs{}),
			PathParam:   "path",
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return ws.ReadFile(ctx, str(args, "path"))
			},
		},
		{
			Name:        action.WriteFile,
			Description: "Create or fully overwrite a file in the workspace.",
			SideEffect:  action.Mutating,
			Params: []action.Param{
				{Name: "path", Type: "string", Required: true},
				{Name: "content", Type: "string", Required: true},
			},
			Schema:    action.SchemaFor(&writeArgs{}),
			PathParam: "path",
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				p, content := str(args, "path"), str(args, "content")
				if err := ws.WriteFile(ctx, p, content); err != nil {
					return "", err
				}
				return fmt.Sprintf("wrote %s (%d bytes)", p, len(content)), nil
			},
		},
		{
			Name:        action.EditFile,
			Description: "Replace one exact occurrence of text in a workspace file.",
			SideEffect:  action.Mutating,
			Params: []action.Param{
				{Name: "path", Type: "string", Required: true},
				{Name: "old_text", Type: "string", Required: true},
				{Name: "new_text", Type: "string", Required: true},
			},
			Schema:    action.SchemaFor(&editArgs{}),
			PathParam: "path",
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				p := str(args, "path")
				if err := ws.EditFile(ctx, p, str(args, "old_text"), str(args, "new_text")); err != nil {
					return "", err
				}
				return "edited " + p, nil
			},
		},
		{
			Name:        action.ListFiles,
			Description: "List files in the workspace or one of its directories.",
			SideEffect:  action.ReadOnly,
			Params:      []action.Param{{Name: "dir", Type: "string"}},
			Schema:      action.SchemaFor(&listArgs{}),
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				files, err := ws.List(str(args, "dir"))
				if err != nil {
					return "", err
				}
				if len(files) == 0 {
					return "no files", nil
				}
				return strings.Join(files, "\n"), nil
			},
		},
		{
			Name:        action.SearchFiles,
			Description: "Search workspace files for a line containing the query.",
			SideEffect:  action.ReadOnly,
			Params: []action.Param{
				{Name: "query", Type: "string", Required: true},
				{Name: "dir", Type: "string"},
			},
			Schema: action.SchemaFor(&searchArgs{}),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				hits, err := ws.Search(ctx, str(args, "query"), str(args, "dir"))
				if err != nil {
					return "", err
				}
				if len(hits) == 0 {
					return "no matches", nil
				}
				var b strings.Builder
				for _, h := range hits {
					fmt.Fprintf(&b, "%s:%d: %s\n", h.Path, h.Line, h.Text)
				}
				return strings.TrimRight(b.String(), "\n"), nil
			},
		},
	}

	if git != nil {
		regs = append(regs, action.Registration{
			Name:        action.CommitPush,
			Description: "Commit all workspace changes and push them.",
			SideEffect:  action.Mutating,
			Params:      []action.Param{{Name: "message", Type: "string"}},
			Schema:      action.SchemaFor(&commitArgs{}),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return git.CommitPush(ctx, str(args, "message"))
			},
		})
	}
	if models != nil {
		regs = append(regs, action.Registration{
			Name:        action.SwitchModel,
			Description: "Switch the default model used for later requests.",
			SideEffect:  action.Mutating,
			Params:      []action.Param{{Name: "model", Type: "string", Required: true}},
			Schema:      action.SchemaFor(&switchArgs{}),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				name := str(args, "model")
				if err := models.SwitchModel(ctx, name); err != nil {
					return "", err
				}
				return "default model is now " + name, nil
			},
		})
	}
	return regs
}

// str reads a string argument. Healed arguments may carry numbers or bools
// where a string was declared, so scalars are formatted rather than dropped.
func str(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

