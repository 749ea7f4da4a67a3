package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Lllllllleong/scanmerge/internal/config"
	"github.com/Lllllllleong/scanmerge/internal/errs"
	"github.com/Lllllllleong/scanmerge/internal/gcp"
	"github.com/Lllllllleong/scanmerge/internal/jobs"
	"github.com/Lllllllleong/scanmerge/internal/merge"
	"github.com/Lllllllleong/scanmerge/internal/models"
	"github.com/Lllllllleong/scanmerge/internal/ocr"
	"github.com/Lllllllleong/scanmerge/internal/orchestrator"
	"github.com/Lllllllleong/scanmerge/internal/pipeline"
)

// cli holds everything the flags bind to.
type cli struct {
	opts pipeline.Options

	output        string
	interleave    bool
	reversePDFs   []int
	profile       string
	profilesFile  string
	quiet         bool
	ocrEngine     string
	vertexProject string
	vertexRegion  string
	vertexModel   string
	history       bool
	historyDB     string
	listLanguages bool
}

func newRootCmd() *cobra.Command {
	c := &cli{opts: pipeline.DefaultOptions()}
	cmd := &cobra.Command{
		Use:   "pdfmerge [flags] file.pdf [file.pdf ...]",
		Short: "Merge scanned PDF batches and clean them up",
		Long: `pdfmerge joins several PDFs into one, either one after another or interleaved
page by page (for odd/even batches from a single-sided scanner), then runs the
selected processing stages: deskew, image cleanup, blank page removal, OCR,
compression, metadata, watermark and page numbers.`,
		Example: `  # Join several PDFs
  pdfmerge a.pdf b.pdf c.pdf -o joined.pdf

  # Interleave odd and even pages, the even batch scanned back to front
  pdfmerge odd.pdf even.pdf -o book.pdf --interleave --reverse-pdfs 1

  # Archive-quality output from a profile, keeping an explicit language
  pdfmerge scan.pdf -o out.pdf --profile archive --ocr-lang eng`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&c.output, "output", "o", "", "output PDF path")
	f.BoolVar(&c.interleave, "interleave", false, "interleave pages across inputs instead of concatenating")
	f.IntSliceVar(&c.reversePDFs, "reverse-pdfs", nil, "zero-based indices of inputs to read back to front")
	f.StringVar(&c.profile, "profile", "", "named option profile")
	f.StringVar(&c.profilesFile, "profiles-file", gcp.GetEnv("SCANMERGE_PROFILES", ""), "profiles YAML file (built-in set when empty)")
	f.BoolVarP(&c.quiet, "quiet", "q", false, "only log warnings and errors")

	f.BoolVar(&c.opts.OCR, "ocr", c.opts.OCR, "add an invisible text layer")
	f.StringVar(&c.opts.OCRLang, "ocr-lang", c.opts.OCRLang, "OCR languages, e.g. spa+eng")
	f.DurationVar(&c.opts.OCRTimeout, "ocr-timeout", c.opts.OCRTimeout, "time limit per page for the OCR engine")
	f.StringVar(&c.ocrEngine, "ocr-engine", "tesseract", "OCR engine: tesseract or vertex")
	f.StringVar(&c.vertexProject, "vertex-project", gcp.GetEnv("GOOGLE_CLOUD_PROJECT", ""), "Google Cloud project for the vertex engine")
	f.StringVar(&c.vertexRegion, "vertex-region", gcp.GetEnv("GOOGLE_CLOUD_REGION", "us-central1"), "region for the vertex engine")
	f.StringVar(&c.vertexModel, "vertex-model", "gemini-1.5-pro", "model for the vertex engine")
	f.BoolVar(&c.listLanguages, "list-languages", false, "list installed tesseract languages and exit")

	f.BoolVar(&c.opts.Deskew, "deskew", c.opts.Deskew, "straighten pages (drops page rotation, or rotates by --deskew-angle)")
	f.BoolVar(&c.opts.AutoDeskew, "auto-deskew", c.opts.AutoDeskew, "detect and correct skew per page")
	f.Float64Var(&c.opts.DeskewThreshold, "deskew-threshold", c.opts.DeskewThreshold, "minimum detected angle in degrees worth correcting")
	f.Float64Var(&c.opts.DeskewAngle, "deskew-angle", c.opts.DeskewAngle, "fixed counter-clockwise rotation in degrees")

	f.BoolVar(&c.opts.Enhance, "enhance", c.opts.Enhance, "raise contrast, brightness and sharpness")
	f.BoolVar(&c.opts.Denoise, "denoise", c.opts.Denoise, "smooth scanner noise")
	f.BoolVar(&c.opts.Despeckle, "despeckle", c.opts.Despeckle, "remove isolated specks")
	f.BoolVar(&c.opts.Sharpen, "sharpen", c.opts.Sharpen, "sharpen pages")
	f.BoolVar(&c.opts.Binarize, "binarize", c.opts.Binarize, "convert pages to black and white")
	f.BoolVar(&c.opts.Autocrop, "autocrop", c.opts.Autocrop, "crop white borders")

	f.BoolVar(&c.opts.RemoveBlank, "remove-blank", c.opts.RemoveBlank, "drop blank pages")
	f.Float64Var(&c.opts.BlankThreshold, "blank-threshold", c.opts.BlankThreshold, "share of white pixels from which a page is blank")

	f.BoolVar(&c.opts.Lossy, "lossy", c.opts.Lossy, "downsample and re-encode pages as JPEG")
	f.IntVar(&c.opts.LossyDPI, "lossy-dpi", c.opts.LossyDPI, "target resolution for --lossy")
	f.IntVar(&c.opts.LossyQuality, "lossy-quality", c.opts.LossyQuality, "JPEG quality for --lossy (1-95)")
	f.BoolVar(&c.opts.Optimize, "optimize", c.opts.Optimize, "lossless structural optimization")
	f.IntVar(&c.opts.CompressLevel, "compress-level", c.opts.CompressLevel, "optimization effort 0-9")

	f.StringVar(&c.opts.Title, "title", "", "document title")
	f.StringVar(&c.opts.Author, "author", "", "document author")
	f.StringVar(&c.opts.Subject, "subject", "", "document subject")
	f.StringVar(&c.opts.Keywords, "keywords", "", "document keywords")

	f.StringVar(&c.opts.Watermark, "watermark", "", "watermark text")
	f.StringVar(&c.opts.WatermarkImage, "watermark-image", "", "watermark image file")
	f.Float64Var(&c.opts.WatermarkOpacity, "watermark-opacity", c.opts.WatermarkOpacity, "watermark opacity 0-1")
	f.Float64Var(&c.opts.WatermarkSize, "watermark-size", c.opts.WatermarkSize, "watermark font size in points")
	f.Float64Var(&c.opts.WatermarkRotation, "watermark-rotation", c.opts.WatermarkRotation, "watermark rotation in degrees")

	f.BoolVar(&c.opts.PageNumbers, "page-numbers", c.opts.PageNumbers, "stamp page numbers")
	f.StringVar(&c.opts.PageNumberPosition, "page-number-position", c.opts.PageNumberPosition, "top|bottom-left|center|right")
	f.Float64Var(&c.opts.PageNumberSize, "page-number-size", c.opts.PageNumberSize, "page number font size")
	f.Float64Var(&c.opts.PageNumberMargin, "page-number-margin", c.opts.PageNumberMargin, "page number distance from the edge in points")

	f.IntVar(&c.opts.Workers, "workers", c.opts.Workers, "pages processed in parallel")
	f.Float64Var(&c.opts.RasterDPI, "raster-dpi", c.opts.RasterDPI, "resolution for rendering vector pages")

	f.BoolVar(&c.history, "history", false, "record this run in the local history database")
	cmd.PersistentFlags().StringVar(&c.historyDB, "history-db", gcp.GetEnv("SCANMERGE_HISTORY_DB", jobs.DefaultHistoryPath()), "local history database")

	cmd.AddCommand(newHistoryCmd(&c.historyDB))
	return cmd
}

// explicitKeys lists the options set on the command line, as profile keys.
func explicitKeys(flags *pflag.FlagSet) map[string]bool {
	explicit := map[string]bool{}
	flags.Visit(func(f *pflag.Flag) {
		explicit[config.Key(f.Name)] = true
	})
	if explicit["quiet"] {
		explicit["verbose"] = true
	}
	return explicit
}

// buildInputs pairs paths with reverse flags. Out-of-range indices are ignored.
func buildInputs(paths []string, reverse []int) []orchestrator.InputSpec {
	inputs := make([]orchestrator.InputSpec, len(paths))
	for i, p := range paths {
		inputs[i] = orchestrator.InputSpec{Path: p}
	}
	for _, idx := range reverse {
		if idx >= 0 && idx < len(inputs) {
			inputs[idx].Reverse = true
		}
	}
	return inputs
}

func newLogger(w io.Writer, quiet bool) *slog.Logger {
	level := slog.LevelInfo
	if quiet {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if c.listLanguages {
		return listLanguages(cmd.OutOrStdout())
	}
	if len(args) == 0 {
		return errors.New("at least one input PDF is required")
	}
	if c.output == "" {
		return errors.New("--output is required")
	}

	explicit := explicitKeys(cmd.Flags())
	opts := c.opts
	opts.Verbose = !c.quiet
	if c.profile != "" {
		profiles, err := config.LoadFile(c.profilesFile)
		if err != nil {
			return err
		}
		if err := profiles.Apply(c.profile, &opts, explicit); err != nil {
			return err
		}
	}

	logger := newLogger(cmd.ErrOrStderr(), !opts.Verbose)
	slog.SetDefault(logger)

	mode := merge.Concat
	if c.interleave {
		mode = merge.Interleave
	}
	inputs := buildInputs(args, c.reversePDFs)

	engine, closeEngine, err := c.ocrEngineFor(ctx, opts)
	if err != nil {
		return err
	}
	defer closeEngine()

	var store jobs.Store
	var jobID string
	if c.history {
		if store, jobID, err = startHistory(ctx, c.historyDB, inputs, mode); err != nil {
			logger.Warn("History unavailable, continuing without it.", "error", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	p := pipeline.New(pipeline.Config{OCR: engine, Logger: logger})
	res, err := orchestrator.New(p, logger).MergeAndProcess(ctx, inputs, opts, c.output, mode)
	if store != nil {
		finishHistory(ctx, logger, store, jobID, res, err)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %s (%d pages)\n", res.OutputPath, res.PageCount)
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	return nil
}

// ocrEngineFor builds the engine selected by --ocr-engine, or nil when OCR is
// off.
func (c *cli) ocrEngineFor(ctx context.Context, opts pipeline.Options) (ocr.Engine, func(), error) {
	noop := func() {}
	if !opts.OCR {
		return nil, noop, nil
	}
	switch c.ocrEngine {
	case "tesseract":
		e := ocr.NewTesseractEngine(opts.Workers)
		return e, func() { e.Close() }, nil
	case "vertex":
		if c.vertexProject == "" {
			return nil, noop, errors.New("--vertex-project or GOOGLE_CLOUD_PROJECT is required for the vertex engine")
		}
		client, err := gcp.NewVertexClient(ctx, c.vertexProject, c.vertexRegion, c.vertexModel)
		if err != nil {
			return nil, noop, err
		}
		return ocr.NewVertexEngine(client.OCRModel, gcp.OCRUserPrompt), func() { client.Close() }, nil
	}
	return nil, noop, fmt.Errorf("unknown OCR engine %q", c.ocrEngine)
}

func listLanguages(w io.Writer) error {
	e := ocr.NewTesseractEngine(1)
	defer e.Close()
	langs, err := e.Languages()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, strings.Join(langs, "\n"))
	return nil
}

func startHistory(ctx context.Context, path string, inputs []orchestrator.InputSpec, mode merge.Mode) (jobs.Store, string, error) {
	store, err := jobs.OpenSQLite(path)
	if err != nil {
		return nil, "", err
	}
	paths := make([]string, len(inputs))
	for i, in := range inputs {
		paths[i] = in.Path
		if in.Reverse {
			paths[i] += " (reversed)"
		}
	}
	id, err := store.Create(ctx, &models.Job{
		Source:     strings.Join(paths, ", "),
		Mode:       mode.String(),
		InputCount: len(inputs),
		Status:     models.StatusProcessing,
	})
	if err != nil {
		store.Close()
		return nil, "", err
	}
	return store, id, nil
}

func finishHistory(ctx context.Context, logger *slog.Logger, store jobs.Store, id string, res *orchestrator.Result, runErr error) {
	// record the outcome even when ctx was cancelled
	ctx = context.WithoutCancel(ctx)
	u := models.JobUpdate{Status: models.StatusSucceeded}
	switch {
	case runErr != nil:
		u = models.JobUpdate{Status: models.StatusFailed, ErrorKind: string(errs.KindOf(runErr)), ErrorDetails: runErr.Error()}
	case len(res.Warnings) > 0:
		u.Status = models.StatusSucceededWithWarnings
		fallthrough
	default:
		u.PageCount = res.PageCount
		u.Output = res.OutputPath
		u.Warnings = res.Warnings
	}
	if err := store.Update(ctx, id, u); err != nil {
		logger.Warn("Failed to record run in history.", "error", err)
	}
}
