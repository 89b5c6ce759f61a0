package control

import (
	"fmt"

	"snapkey/internal/config"
	"snapkey/internal/ipc"

	"github.com/spf13/cobra"
)

// NewActionCmd builds a command that sends one request to the running
// instance.
func NewActionCmd(cfgPath *string, use, short string, action ipc.Action) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolvePath(*cfgPath))
			if cfg == nil {
				return err
			}
			if err := ipc.Send(cmd.Context(), cfg.IPCAddr(), action); err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			return nil
		},
	}
}

// ActionCmds returns the request commands.
func ActionCmds(cfgPath *string) []*cobra.Command {
	return []*cobra.Command{
		NewActionCmd(cfgPath, "settings", "Open settings in the running instance", ipc.ActionReopenSettings),
		NewActionCmd(cfgPath, "capture", "Take a screenshot with the running instance", ipc.ActionCapture),
		NewActionCmd(cfgPath, "open-folder", "Open the screenshots folder", ipc.ActionOpenFolder),
		NewActionCmd(cfgPath, "quit", "Quit the running instance", ipc.ActionQuit),
	}
}
