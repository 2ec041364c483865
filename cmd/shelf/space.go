package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/shelf/internal/engine"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

var (
	flagSpaceKind   string
	flagSpaceMutate bool
)

var spaceCmd = &cobra.Command{
	Use:   "space",
	Short: "Administer record spaces",
}

var spaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the spaces of a project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			spaces, err := e.ListSpaces(ctx, trace(""))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), spaces)
		})
	},
}

var spaceShowCmd = &cobra.Command{
	Use:   "show <space>",
	Short: "Show a space and its fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			space, err := e.GetSpace(ctx, trace(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), space)
		})
	},
}

var spaceDeclareCmd = &cobra.Command{
	Use:   "declare <space> <structure>",
	Short: "Create a space or reconcile it with a structure",
	Long: `Declare creates the space with the given structure, a JSON array of
field declarations. For an existing space the structure is reconciled:
new fields and changed flags need --mutate.

Example:
  shelf space declare users '[{"slug":"name","type":"text","required":true,"unique":true},
                              {"slug":"password","type":"text","hashed":true}]'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseStructure(args[1])
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			space, err := e.DeclareSpace(ctx, trace(args[0]), fields, types.SpaceKind(flagSpaceKind), flagSpaceMutate)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), space)
		})
	},
}

var spaceDeleteCmd = &cobra.Command{
	Use:   "delete <space>",
	Short: "Delete a space with all its records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			if err := e.DeleteSpace(ctx, trace(args[0])); err != nil {
				return err
			}
			return confirm(cmd.OutOrStdout(), fmt.Sprintf("Deleted space %s", args[0]),
				map[string]any{"deleted": args[0]})
		})
	},
}

var spaceRemoveFieldCmd = &cobra.Command{
	Use:   "remove-field <space> <field>",
	Short: "Remove a field from a space",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			space, err := e.RemoveField(ctx, trace(args[0]), args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), space)
		})
	},
}

func init() {
	spaceDeclareCmd.Flags().StringVar(&flagSpaceKind, "kind", string(types.SpaceKindRows), "space kind for a new space: rows or single")
	spaceDeclareCmd.Flags().BoolVar(&flagSpaceMutate, "mutate", false, "allow the structure to change an existing space")

	spaceCmd.AddCommand(spaceListCmd)
	spaceCmd.AddCommand(spaceShowCmd)
	spaceCmd.AddCommand(spaceDeclareCmd)
	spaceCmd.AddCommand(spaceDeleteCmd)
	spaceCmd.AddCommand(spaceRemoveFieldCmd)
}
