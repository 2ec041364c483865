package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/shelf/internal/engine"
	"github.com/mesh-intelligence/shelf/internal/syntax"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

var (
	flagStructure    string
	flagMutate       bool
	flagClear        bool
	flagKind         string
	flagRelationship string
	flagSort         string
	flagLimit        int
	flagOffset       int
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Write and query records",
}

var recordAddCmd = &cobra.Command{
	Use:   "add <space> <json|->",
	Short: "Add a record",
	Long: `Add writes a record to the space. Without --structure an existing
space keeps its fields, and a new space gets a structure inferred from the
record when auto_create_spaces is on.

Example:
  shelf record add -p acme users '{"name":"ada","password":"secret123"}'
  echo '{"theme":"dark"}' | shelf record add settings - --kind single`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, wo, err := writeArgs(cmd, args[1])
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			d, err := e.AddRecord(ctx, trace(args[0]), body, wo)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d.Flat())
		})
	},
}

var recordUpdateCmd = &cobra.Command{
	Use:   "update <space> <id> <json|->",
	Short: "Update fields of a record",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, wo, err := writeArgs(cmd, args[2])
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			d, err := e.UpdateRecordByID(ctx, trace(args[0]), args[1], body, wo)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d.Flat())
		})
	},
}

var recordGetCmd = &cobra.Command{
	Use:   "get <space> <id>",
	Short: "Show a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			d, err := e.GetRecordByID(ctx, trace(args[0]), args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d.Flat())
		})
	},
}

var recordListCmd = &cobra.Command{
	Use:   "list <space> [field=value...]",
	Short: "Query records",
	Long: `List returns the records matching every field=value filter, or any of
them with --relationship or. Values that parse as JSON are used decoded.

Example:
  shelf record list -p acme users age=36 --sort -name --limit 10
  shelf record list -p acme users password=secret123`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := parseFilter(args[1:])
		if err != nil {
			return err
		}
		rel, err := syntax.ParseRelationship(flagRelationship)
		if err != nil {
			return err
		}
		ro := engine.ReadOptions{Relationship: rel, Sort: flagSort, Limit: flagLimit, Offset: flagOffset}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			ds, err := e.GetRecords(ctx, trace(args[0]), raw, ro)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), flatten(ds))
		})
	},
}

var recordDeleteCmd = &cobra.Command{
	Use:   "delete <space> <id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			if err := e.DeleteRecordByID(ctx, trace(args[0]), args[1]); err != nil {
				return err
			}
			return confirm(cmd.OutOrStdout(), fmt.Sprintf("Deleted record %s", args[1]),
				map[string]any{"deleted": args[1]})
		})
	},
}

var recordClearCmd = &cobra.Command{
	Use:   "clear <space>",
	Short: "Delete every record of a space",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			n, err := e.ClearRecords(ctx, trace(args[0]))
			if err != nil {
				return err
			}
			return confirm(cmd.OutOrStdout(), fmt.Sprintf("Deleted %d records", n),
				map[string]any{"deleted": n})
		})
	},
}

// writeArgs reads the record body and the structure flags of a write.
func writeArgs(cmd *cobra.Command, bodyArg string) (map[string]any, engine.WriteOptions, error) {
	body, err := readObject(cmd.InOrStdin(), bodyArg)
	if err != nil {
		return nil, engine.WriteOptions{}, err
	}
	fields, err := parseStructure(flagStructure)
	if err != nil {
		return nil, engine.WriteOptions{}, err
	}
	return body, engine.WriteOptions{
		Structure:       fields,
		MutateStructure: flagMutate,
		ClearRecords:    flagClear,
		Kind:            types.SpaceKind(flagKind),
	}, nil
}

func init() {
	for _, c := range []*cobra.Command{recordAddCmd, recordUpdateCmd} {
		c.Flags().StringVar(&flagStructure, "structure", "", "JSON array of field declarations")
		c.Flags().BoolVar(&flagMutate, "mutate", false, "allow --structure to change the space")
	}
	recordAddCmd.Flags().BoolVar(&flagClear, "clear", false, "delete every record of the space first")
	recordAddCmd.Flags().StringVar(&flagKind, "kind", "", "kind of a space created by this write: rows or single")

	recordListCmd.Flags().StringVar(&flagRelationship, "relationship", "and", "combine filters with and or or")
	recordListCmd.Flags().StringVar(&flagSort, "sort", "", "comma separated fields, - prefix for descending")
	recordListCmd.Flags().IntVar(&flagLimit, "limit", 0, "maximum records (0 for all)")
	recordListCmd.Flags().IntVar(&flagOffset, "offset", 0, "records to skip")

	recordCmd.AddCommand(recordAddCmd)
	recordCmd.AddCommand(recordUpdateCmd)
	recordCmd.AddCommand(recordGetCmd)
	recordCmd.AddCommand(recordListCmd)
	recordCmd.AddCommand(recordDeleteCmd)
	recordCmd.AddCommand(recordClearCmd)
}
