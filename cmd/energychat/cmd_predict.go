package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/user/energychat/internal/dataset"
)

func init() {
	rootCmd.AddCommand(predictCmd)
	predictCmd.Flags().String("utility", dataset.DefaultUtility, "utility to model")
	predictCmd.Flags().Int("sample", dataset.DefaultSample, "number of recent predictions to print")
}

var predictCmd = &cobra.Command{
	Use:   "predict <building-number>",
	Short: "Run the baseline energy model for a building",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		building, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid building number %q", args[0])
		}
		utility, _ := cmd.Flags().GetString("utility")
		sample, _ := cmd.Flags().GetInt("sample")

		cfg := loadConfig()
		store, err := openDataset(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := store.PredictSample(building, utility, sample)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}
