package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/andresmejia3/checkmates/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var enrollDir string

var enrollCmd = &cobra.Command{
	Use:   "enroll [<email> <image_path>]",
	Short: "Enroll a face image under an identity key",
	Long: "Enroll one image under an email, or every <email>.jpg|.jpeg|.png in --dir.\n" +
		"Images without a detectable face are rejected and leave the gallery unchanged.",
	Args: func(cmd *cobra.Command, args []string) error {
		return validateEnrollArgs(args, enrollDir)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if enrollDir != "" {
			return runEnrollDir(cmd.Context(), enrollDir)
		}
		return runEnroll(cmd.Context(), args[0], args[1])
	},
}

func init() {
	enrollCmd.Flags().StringVarP(&enrollDir, "dir", "d", "", "Directory of <email>.jpg images to enroll in bulk")
	rootCmd.AddCommand(enrollCmd)
}

// validateEnrollArgs accepts either exactly <email> <image> or --dir alone.
func validateEnrollArgs(args []string, dir string) error {
	if dir != "" {
		if len(args) != 0 {
			return errors.New("--dir cannot be combined with positional arguments")
		}
		return nil
	}
	if len(args) != 2 {
		return fmt.Errorf("expected <email> <image_path>, got %d argument(s)", len(args))
	}
	return nil
}

func runEnroll(ctx context.Context, email, imagePath string) error {
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

	ref, err := eng.service.Register(ctx, email, img)
	if err != nil {
		return fail(fmt.Sprintf("Failed to enroll %s", email), err)
	}
	fmt.Printf("✅ Enrolled %s (%s)\n", email, ref)
	return nil
}

type enrollTarget struct {
	Email string
	Path  string
}

// collectEnrollTargets lists image files in dir, keyed by file name without extension.
func collectEnrollTargets(dir string) ([]enrollTarget, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var targets []enrollTarget
	for _, e := range entries {
		if e.IsDir() || !utils.IsImageFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		targets = append(targets, enrollTarget{Email: utils.KeyFromFilename(path), Path: path})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Email < targets[j].Email })
	return targets, nil
}

type enrollFailure struct {
	Target enrollTarget
	Err    error
}

func runEnrollDir(ctx context.Context, dir string) error {
	targets, err := collectEnrollTargets(dir)
	if err != nil {
		return fail("Failed to read enrollment directory", err)
	}
	if len(targets) == 0 {
		fmt.Println("No images found to enroll.")
		return nil
	}

	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Worker Engines...\n", cfg.Worker.Engines)
	eng, err := startEngine(ctx)
	if err != nil {
		return fail("Failed to start AI engine", err)
	}
	defer eng.Close()

	bar := progressbar.NewOptions(len(targets),
		progressbar.OptionSetDescription("📸 Enrolling"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	tasks := make(chan enrollTarget)
	var (
		mu       sync.Mutex
		failures []enrollFailure
		wg       sync.WaitGroup
	)
	for i := 0; i < cfg.Worker.Engines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				err := enrollFile(ctx, eng, t)
				mu.Lock()
				if err != nil {
					failures = append(failures, enrollFailure{Target: t, Err: err})
				}
				bar.Add(1)
				mu.Unlock()
			}
		}()
	}

feed:
	for _, t := range targets {
		select {
		case tasks <- t:
		case <-ctx.Done():
			break feed
		}
	}
	close(tasks)
	wg.Wait()
	bar.Finish()

	if err := ctx.Err(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\n🏁 Enrolled %d of %d images.\n", len(targets)-len(failures), len(targets))
	if len(failures) == 0 {
		return nil
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Target.Email < failures[j].Target.Email })
	for _, f := range failures {
		fmt.Fprintf(os.Stderr, "   ❌ %s: %v\n", filepath.Base(f.Target.Path), f.Err)
	}
	return fmt.Errorf("%d image(s) failed to enroll", len(failures))
}

func enrollFile(ctx context.Context, eng *engine, t enrollTarget) error {
	img, err := os.ReadFile(t.Path)
	if err != nil {
		return err
	}
	_, err = eng.service.Register(ctx, t.Email, img)
	return err
}
