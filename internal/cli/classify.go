package cli

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sjawhar/tish/internal/safety"
)

var classifyRegion string

type classifyOutput struct {
	safety.Verdict
	Resources *safety.Resources `json:"resources,omitempty"`
}

var classifyCmd = &cobra.Command{
	Use:   "classify <text>",
	Short: "Run the safety classifier on text and print the verdict as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		verdict := safety.NewClassifier().Classify(strings.Join(args, " "))

		out := classifyOutput{Verdict: verdict}
		if verdict.IsCrisis {
			res := safety.LookupResources(classifyRegion)
			out.Resources = &res
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifyRegion, "region", safety.DefaultRegion, "Region for crisis resources")
}
