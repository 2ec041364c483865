package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/shelf/internal/engine"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// cliCaller identifies command line writes in logs.
const cliCaller = "cli"

// withEngine opens the runtime, runs fn and closes the runtime.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine.Engine) error) error {
	rt, err := openRuntime(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(cmd.Context(), rt.engine)
}

// trace addresses space in the --project project.
func trace(space string) *engine.Trace {
	return engine.NewTrace(engine.Scope{ProjectSlug: flagProject, SpaceSlug: space, CallerID: cliCaller}, "")
}

// printJSON writes v indented.
func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// confirm prints a confirmation as text, or as JSON with --json.
func confirm(w io.Writer, msg string, fields map[string]any) error {
	if flagJSON {
		return printJSON(w, fields)
	}
	_, err := fmt.Fprintln(w, msg)
	return err
}

// readObject decodes a JSON object from arg, or from stdin when arg is "-".
func readObject(in io.Reader, arg string) (map[string]any, error) {
	data := []byte(arg)
	if arg == "-" {
		var err error
		if data, err = io.ReadAll(in); err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", types.ErrInvalidDocument)
	}
	return obj, nil
}

// parseStructure decodes a JSON array of field declarations.
func parseStructure(raw string) ([]types.FieldDeclaration, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var fields []types.FieldDeclaration
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidStructure, err)
	}
	if fields == nil {
		fields = []types.FieldDeclaration{}
	}
	return fields, nil
}

// parseFilter turns key=value arguments into a raw query. A value that is
// valid JSON is used decoded; a key given twice matches either value.
func parseFilter(args []string) (map[string]any, error) {
	raw := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: invalid filter %q (expected key=value)", types.ErrInvalidQuery, arg)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		switch prev := raw[key].(type) {
		case nil:
			raw[key] = parsed
		case []any:
			raw[key] = append(prev, parsed)
		default:
			raw[key] = []any{prev, parsed}
		}
	}
	return raw, nil
}

// openInput opens path for reading, or stdin for "-".
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func flatten(ds []types.RecordDump) []map[string]any {
	out := make([]map[string]any, len(ds))
	for i := range ds {
		out[i] = ds[i].Flat()
	}
	return out
}
