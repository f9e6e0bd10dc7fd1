package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var roundsFile string

var roundsCmd = &cobra.Command{
	Use:   "rounds",
	Short: "Inspect the configured grant rounds",
}

var roundsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enabled rounds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := loadRounds(roundsFile, nil)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tOBJECT\tFIELDS\tATTACHMENT")
		for _, r := range reg.List() {
			file := r.Schema.FileField()
			if file == "" {
				file = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Title, r.Mapping.Object, len(r.Form().Fields), file)
		}
		return tw.Flush()
	},
}

var roundsFormCmd = &cobra.Command{
	Use:   "form <round-id>",
	Short: "Print the composed form contract of a round as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRounds(roundsFile, nil)
		if err != nil {
			return err
		}
		r, err := reg.Get(args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(r.Form())
	},
}

func init() {
	roundsCmd.PersistentFlags().StringVar(&roundsFile, "rounds-file", os.Getenv("ROUNDS_FILE"), "per-round settings YAML")
	roundsCmd.AddCommand(roundsListCmd, roundsFormCmd)
}
