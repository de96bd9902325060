package cmd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image-file>",
	Short: "Recognize the faces in an image file",
	Long: `Detect every face in the image and classify it against the published
model. The model must exist; run "faceid train" first.

Examples:
  faceid recognize group.jpg
  faceid recognize --json group.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runRecognize,
}

var enrollCmd = &cobra.Command{
	Use:   "enroll <image-file>",
	Short: "Enroll an identity from an image file and retrain",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnroll,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)
	rootCmd.AddCommand(enrollCmd)

	recognizeCmd.Flags().Bool("json", false, "Output results as JSON")
	enrollCmd.Flags().String("name", "", "Display name of the new identity (required)")
	_ = enrollCmd.MarkFlagRequired("name")
}

func readImagePayload(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func runRecognize(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	payload, err := readImagePayload(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.faces.Recognize(ctx, payload)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	if len(results) == 0 {
		fmt.Println("No faces recognized")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCONFIDENCE\tIDENTITY\tBOX")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%d%%\t%d\t%d,%d %dx%d\n",
			r.IdentityName, r.ConfidencePercent, r.IdentityID, r.Box.X, r.Box.Y, r.Box.Width, r.Box.Height)
	}
	return w.Flush()
}

func runEnroll(cmd *cobra.Command, args []string) error {
	name := mustGetString(cmd, "name")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	payload, err := readImagePayload(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.faces.Enroll(ctx, name, payload)
	if err != nil {
		return err
	}
	fmt.Printf("Enrolled %q as identity %d with %d samples; model retrained on %d samples\n",
		result.Name, result.IdentityID, len(result.Samples), result.Training.Samples)
	return nil
}
