package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/shelf/internal/paths"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the configuration and storage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configDir, err := paths.ResolveConfigDir(flagConfigDir)
		if err != nil {
			return err
		}
		rt, err := openRuntime(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer rt.Close()
		if err := rt.store.Ping(cmd.Context()); err != nil {
			return fmt.Errorf("ping %s backend: %w", cfg.Backend, err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "shelf initialized")
		fmt.Fprintln(out, "  config: ", configDir)
		fmt.Fprintln(out, "  backend:", cfg.Backend)
		if cfg.Backend == types.BackendSQLite {
			fmt.Fprintln(out, "  data:   ", cfg.DataDir)
		}
		return nil
	},
}
