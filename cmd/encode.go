package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/facematch/internal/encoding"
	"github.com/andresmejia3/facematch/internal/engine"
	"github.com/andresmejia3/facematch/internal/imaging"
	"github.com/andresmejia3/facematch/internal/types"
	"github.com/andresmejia3/facematch/internal/utils"
)

const megabyte = 1024 * 1024

// Options holds the face selection settings shared by encode and compare.
type Options struct {
	Largest bool
	Stdin   bool
}

var encodeOpts Options

// errNoFace marks an image in which no usable face was found.
var errNoFace = errors.New("no face detected in image")

var encodeCmd = &cobra.Command{
	Use:   "encode [image ...]",
	Short: "Print the face encoding of each image as a JSON line",
	Long: `Print one JSON object per input on stdout.

With --stdin the input is a concatenated MJPEG stream, for example:
  ffmpeg -i video.mp4 -f image2pipe -vcodec mjpeg - | facematch encode --stdin`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if encodeOpts.Stdin == (len(args) > 0) {
			return errors.New("pass image paths or --stdin, not both or neither")
		}

		e, err := engine.New(cmd.Context(), cfg.EngineSettings(), logger)
		if err != nil {
			utils.ShowError("Failed to start face engine", err, nil)
			return err
		}
		defer e.Close()

		if encodeOpts.Stdin {
			return runEncodeStream(cmd.Context(), e, os.Stdin, os.Stdout, encodeOpts)
		}
		return runEncodeFiles(cmd.Context(), e, args, os.Stdout, encodeOpts)
	},
}

func init() {
	encodeCmd.Flags().BoolVarP(&encodeOpts.Largest, "largest", "l", false, "Use the largest face instead of the first one")
	encodeCmd.Flags().BoolVar(&encodeOpts.Stdin, "stdin", false, "Read an MJPEG stream from stdin")
	addEngineFlags(encodeCmd)
	rootCmd.AddCommand(encodeCmd)
}

// encodeResult is one output line of the encode command.
type encodeResult struct {
	Source        string              `json:"source"`
	FacesDetected int                 `json:"faces_detected"`
	Location      *types.FaceLocation `json:"location,omitempty"`
	Encoding      encoding.Vector     `json:"encoding,omitempty"`
	Error         string              `json:"error,omitempty"`
}

func runEncodeFiles(ctx context.Context, e engine.Engine, paths []string, out io.Writer, opts Options) error {
	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("🔍 Encoding"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	enc := json.NewEncoder(out)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := encodeFile(ctx, e, path, opts)
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
		bar.Add(1)
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	return nil
}

func runEncodeStream(ctx context.Context, e engine.Engine, in io.Reader, out io.Writer, opts Options) error {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("🔍 Encoding frames"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	enc := json.NewEncoder(out)
	frame := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := encodeImage(ctx, e, fmt.Sprintf("frame:%d", frame), bytes.NewReader(scanner.Bytes()), opts)
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
		frame++
		bar.Add(1)
	}
	if err := scanner.Err(); err != nil {
		utils.ShowError("Frame scanner failed", err, nil)
		return err
	}
	bar.Finish()
	fmt.Fprintf(os.Stderr, "\n🏁 Encoded %d frames.\n", frame)
	return nil
}

func encodeFile(ctx context.Context, e engine.Engine, path string, opts Options) encodeResult {
	f, err := os.Open(path)
	if err != nil {
		return encodeResult{Source: path, Error: err.Error()}
	}
	defer f.Close()
	return encodeImage(ctx, e, path, f, opts)
}

func encodeImage(ctx context.Context, e engine.Engine, source string, r io.Reader, opts Options) encodeResult {
	res := encodeResult{Source: source}
	img, err := imaging.Decode(r)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	loc, vec, n, err := encodeFace(ctx, e, img, opts.Largest)
	res.FacesDetected = n
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Location = &loc
	res.Encoding = vec
	return res
}

// encodeFace detects faces in img and encodes the chosen one. It also returns how many
// faces were found.
func encodeFace(ctx context.Context, e engine.Engine, img types.RGBImage, largest bool) (types.FaceLocation, encoding.Vector, int, error) {
	locs, err := e.DetectFaces(ctx, img)
	if err != nil {
		return types.FaceLocation{}, nil, 0, err
	}
	if len(locs) == 0 {
		return types.FaceLocation{}, nil, 0, errNoFace
	}

	loc := chooseFace(locs, largest)
	vecs, err := e.EncodeFaces(ctx, img, []types.FaceLocation{loc})
	if err != nil {
		return loc, nil, len(locs), err
	}
	if len(vecs) == 0 {
		return loc, nil, len(locs), errors.New("could not generate face encoding")
	}
	return loc, vecs[0], len(locs), nil
}

// chooseFace picks the first location, or the one with the largest area.
func chooseFace(locs []types.FaceLocation, largest bool) types.FaceLocation {
	best := locs[0]
	if !largest {
		return best
	}
	for _, l := range locs[1:] {
		if l.Area() > best.Area() {
			best = l
		}
	}
	return best
}
