package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Retrain the model from every stored sample",
	Long: `Read every stored face sample, train a new LBPH model and publish it to
MODEL_PATH. Do not run this while "faceid serve" is enrolling against the
same storage; the server's own POST /api/model/train goes through its queue.`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().Bool("json", false, "Output training stats as JSON")
}

func runTrain(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()

	a, err := newApp(ctx, cfg, appOptions{SkipDetector: true})
	if err != nil {
		return err
	}
	defer a.Close()

	keys, err := a.samples.Keys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list samples: %w", err)
	}

	trainer := a.trainer
	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(keys),
			progressbar.OptionSetDescription("Reading samples"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("samples"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
		trainer = trainer.WithProgress(func(n int) {
			_ = bar.Set(n)
		})
	}

	_, stats, err := trainer.Retrain(ctx)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	fmt.Printf("Model trained on %d samples of %d identities (%d skipped) in %s\n",
		stats.Samples, stats.Identities, stats.Skipped, stats.Duration)
	fmt.Printf("Published to %s\n", trainer.ModelPath())
	return nil
}
