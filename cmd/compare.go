package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/facematch/internal/encoding"
	"github.com/andresmejia3/facematch/internal/engine"
	"github.com/andresmejia3/facematch/internal/imaging"
	"github.com/andresmejia3/facematch/internal/utils"
)

var compareOpts Options

var compareCmd = &cobra.Command{
	Use:   "compare <reference_image> <image> [image ...]",
	Short: "Compare the face in each image against a reference face",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		fmt.Fprintln(os.Stderr, "🚀 Starting face engine...")
		e, err := engine.New(cmd.Context(), cfg.EngineSettings(), logger)
		if err != nil {
			utils.ShowError("Failed to start face engine", err, nil)
			return err
		}
		defer e.Close()

		return runCompare(cmd.Context(), e, args[0], args[1:], os.Stdout, compareOpts)
	},
}

func init() {
	compareCmd.Flags().BoolVarP(&compareOpts.Largest, "largest", "l", false, "Use the largest face in each image")
	addEngineFlags(compareCmd)
	rootCmd.AddCommand(compareCmd)
}

// compareResult is one output line of the compare command.
type compareResult struct {
	Source string `json:"source"`
	*encoding.Result
	Error string `json:"error,omitempty"`
}

func runCompare(ctx context.Context, e engine.Engine, refPath string, paths []string, out io.Writer, opts Options) error {
	ref, err := faceFromFile(ctx, e, refPath, opts.Largest)
	if err != nil {
		utils.ShowError("Failed to encode reference image", err, nil)
		return err
	}

	enc := json.NewEncoder(out)
	for _, path := range paths {
		res := compareResult{Source: path}
		vec, err := faceFromFile(ctx, e, path, opts.Largest)
		if err != nil {
			res.Error = err.Error()
		} else {
			r, err := encoding.Evaluate(e.Distance([]encoding.Vector{ref}, vec)[0])
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Result = &r
			}
		}
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}
	return nil
}

func faceFromFile(ctx context.Context, e engine.Engine, path string, largest bool) (encoding.Vector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := imaging.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	_, vec, _, err := encodeFace(ctx, e, img, largest)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vec, nil
}
