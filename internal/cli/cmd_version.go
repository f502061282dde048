package cli

import (
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags.
var (
	version = "dev"
	commit  = "none"
)

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tusk version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(map[string]string{"version": version, "commit": commit}, func() {
				infof("tusk %s (%s)", version, commit)
			})
		},
	}
}
