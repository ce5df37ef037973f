package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/krau/visualnarrator/errs"
	"github.com/krau/visualnarrator/imageproc"
	"github.com/krau/visualnarrator/onnx"
	"github.com/krau/visualnarrator/service"
	"github.com/spf13/cobra"
)

var captionCmd = &cobra.Command{
	Use:   "caption IMAGE...",
	Short: "Generate a description for each image",
	Long:  "Generate a description for each image. Supported formats: " + strings.Join(imageproc.SupportedExtensions(), " "),
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCaption,
}

func init() {
	rootCmd.AddCommand(captionCmd)
}

func runCaption(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(flags)
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()
	defer onnx.Shutdown()

	orch := service.New(service.ONNXLoader(cfg), service.Options{
		ImageSize:   cfg.ImageSize,
		ResizeMode:  imageproc.ResizeMode(cfg.ResizeMode),
		EventBuffer: cfg.EventBuffer,
	})
	defer orch.Close()

	v := &view{out: cmd.OutOrStdout(), orch: orch, pending: args}
	orch.LoadModelsAsync(ctx)
	runCtx, stop := context.WithCancel(ctx)
	v.stop = stop
	orch.Dispatch(runCtx, func(e service.Event) { v.handle(runCtx, e) })

	if ctx.Err() != nil {
		slog.Info("Interrupted")
	}
	if v.failures > 0 {
		return fmt.Errorf("%d of %d images failed", v.failures, len(args))
	}
	return nil
}

// view plays the part of the window: it owns all output and only changes
// state from the dispatch loop.
type view struct {
	out      io.Writer
	orch     *service.Orchestrator
	pending  []string
	failures int
	stop     context.CancelFunc
}

func (v *view) handle(ctx context.Context, e service.Event) {
	switch e := e.(type) {
	case *service.ModelsReady:
		slog.Info("Models loaded successfully", slog.Duration("elapsed", e.Elapsed))
		v.next(ctx)
	case *service.ModelsFailed:
		fmt.Fprintln(v.out, e.Message)
		v.failures = len(v.pending)
		v.stop()
	case *service.CaptionGenerated:
		fmt.Fprintf(v.out, "%s\n\n", e.ImagePath)
		RenderCaption(v.out, e.Result)
		fmt.Fprintln(v.out)
		v.next(ctx)
	case *service.CaptionFailed:
		fmt.Fprintf(v.out, "%s\n\nError: %s\n\n", e.ImagePath, e.Message)
		v.failures++
		v.next(ctx)
	}
}

func (v *view) next(ctx context.Context) {
	for len(v.pending) > 0 {
		path := v.pending[0]
		v.pending = v.pending[1:]
		if _, err := v.orch.GenerateCaptionAsync(ctx, path); err != nil {
			fmt.Fprintf(v.out, "%s\n\nError: %s (%s)\n\n", path, err, errs.KindOf(err))
			v.failures++
			continue
		}
		return
	}
	v.stop()
}

func RenderCaption(w io.Writer, r *service.CaptionResult) {
	fmt.Fprint(w, "GENERATED Description:\n\n")
	if r.Caption == "" {
		fmt.Fprint(w, "(the model produced an empty description)\n\n")
	} else {
		fmt.Fprintf(w, "%s\n\n", r.Caption)
	}
	fmt.Fprint(w, "Image Analysis:\n")
	fmt.Fprint(w, "• Description successfully generated\n")
	fmt.Fprintf(w, "• Caption length: %d words\n", r.WordCount)
	fmt.Fprintf(w, "• Decoding steps: %d (stopped on %s)\n", r.Steps, r.Stop)
	fmt.Fprintf(w, "\nGenerated on: %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))
}
