package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/checkmates/internal/faceid"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <image_path>",
	Short: "Identify the person in a photo and record attendance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runCheck(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(ctx context.Context, imagePath string) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		return fail("Input file does not exist", err)
	}
	img, err := os.ReadFile(imagePath)
	if err != nil {
		return fail("Failed to read image file", err)
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	eng, err := startEngine(ctx)
	if err != nil {
		return fail("Failed to start AI engine", err)
	}
	defer eng.Close()

	fmt.Fprintln(os.Stderr, "🔍 Scanning gallery...")
	match, err := eng.service.Check(ctx, img)
	switch {
	case errors.Is(err, faceid.ErrNoMatch):
		fmt.Printf("❌ No match above threshold %.2f.\n", cfg.MatchThreshold)
		return err
	case errors.Is(err, faceid.ErrNoFaceDetected):
		fmt.Println("❌ No faces detected in the provided image.")
		return err
	case err != nil:
		return fail("Check failed", err)
	}

	fmt.Printf("✅ Found Match: %s (similarity %.4f)\n", match.Key, match.Score)
	fmt.Println("📝 Attendance recorded.")
	return nil
}
