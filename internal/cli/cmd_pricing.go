package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tuskdev/tusk/internal/cost"
	"github.com/tuskdev/tusk/internal/errors"
)

// newPricingUpdateCmd creates the pricing-update command
func newPricingUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pricing-update",
		Short: "Refresh the model pricing catalog",
		Long: `Refresh .tusk/pricing.json from the published pricing page, or from
a saved HTML file with --from-file. Existing session costs are not
recomputed; rerun attribution where it matters.

Examples:
  tusk pricing-update
  tusk pricing-update --from-file pricing.html`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			fromFile, _ := cmd.Flags().GetString("from-file")
			url, _ := cmd.Flags().GetString("url")

			var pricing *cost.Pricing
			if fromFile != "" {
				f, err := os.Open(fromFile)
				if err != nil {
					return &errors.TuskError{
						Code:  errors.CodeInvalidInput,
						What:  "cannot read pricing file",
						Why:   err.Error(),
						Cause: err,
					}
				}
				defer f.Close()
				pricing, err = cost.ParsePricingHTML(f)
				if err != nil {
					return err
				}
			} else {
				if url == "" {
					url = cost.DefaultPricingURL
				}
				pricing, err = cost.FetchPricing(cmd.Context(), url)
				if err != nil {
					return err
				}
			}

			if err := pricing.Save(p.Paths.Pricing); err != nil {
				return err
			}
			return emit(pricing, func() {
				successf("Updated pricing for %d models", len(pricing.Models))
			})
		},
	}
	cmd.Flags().String("from-file", "", "Parse a saved pricing HTML file")
	cmd.Flags().String("url", "", "Pricing page URL")
	return cmd
}
