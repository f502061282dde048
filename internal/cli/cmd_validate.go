package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tuskdev/tusk/internal/errors"
	"github.com/tuskdev/tusk/internal/validate"
)

// newValidateCmd creates the validate command
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check store integrity",
		Long: `Check the store against its invariants: foreign keys, closed-reason
consistency, enum drift against the config, dependency cycles, and
sessions left open on terminal tasks. Exits non-zero when anything is
wrong.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			report, err := validate.Run(p.DB, p.Cfg)
			if err != nil {
				return err
			}
			if emitErr := emit(report, func() {
				if report.OK() {
					successf("Store is consistent (%d checks)", report.Checked)
					return
				}
				for _, f := range report.Findings {
					warnf("%s: %s", f.Check, f.Detail)
				}
			}); emitErr != nil {
				return emitErr
			}
			if !report.OK() {
				return errors.ErrIntegrity(
					fmt.Sprintf("%d integrity findings", len(report.Findings)), nil)
			}
			return nil
		},
	}
}
