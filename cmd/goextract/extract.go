package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goextract"
)

type extractFlags struct {
	asJSON    bool
	metadata  bool
	maxDepth  int
	maxOutput int64
	timeout   time.Duration
	ocr       bool
	hint      string
	noCache   bool
}

func newExtractCmd(a *app) *cobra.Command {
	f := &extractFlags{}
	cmd := &cobra.Command{
		Use:   "extract [file...]",
		Short: "Extract text from documents",
		Long: `Extract the text of each document to standard output. A file named "-"
is read from standard input.

Documents are separated by a form feed. With --json, one JSON object per
document is written instead, carrying metadata and diagnostics.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := goextract.New(a.cfg)
			if err != nil {
				return err
			}
			defer e.Close()
			return runExtract(cmd, e, f, args)
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&f.asJSON, "json", false, "write results as JSON lines")
	fl.BoolVar(&f.metadata, "metadata", false, "print metadata before the text")
	fl.IntVar(&f.maxDepth, "max-depth", -1, "embedded object depth (default from config)")
	fl.Int64Var(&f.maxOutput, "max-output", -1, "maximum text bytes (default from config)")
	fl.DurationVar(&f.timeout, "timeout", 0, "per-document timeout (default from config)")
	fl.BoolVar(&f.ocr, "ocr", false, "recognize text in images (requires OCR configuration)")
	fl.StringVar(&f.hint, "hint", "", "format hint for input without a signature, e.g. txt")
	fl.BoolVar(&f.noCache, "no-cache", false, "bypass the result cache")
	return cmd
}

func (f *extractFlags) options(cmd *cobra.Command) []goextract.ExtractOption {
	var opts []goextract.ExtractOption
	if f.maxDepth >= 0 {
		opts = append(opts, goextract.WithMaxEmbeddedDepth(f.maxDepth))
	}
	if f.maxOutput >= 0 {
		opts = append(opts, goextract.WithMaxOutputSize(f.maxOutput))
	}
	if f.timeout > 0 {
		opts = append(opts, goextract.WithTimeout(f.timeout))
	}
	if cmd.Flags().Changed("ocr") {
		opts = append(opts, goextract.WithOCR(f.ocr))
	}
	if f.hint != "" {
		opts = append(opts, goextract.WithFormatHint(f.hint))
	}
	if f.noCache {
		opts = append(opts, goextract.WithoutCache())
	}
	return opts
}

// runExtract processes every argument and returns the first error after
// all of them have been attempted.
func runExtract(cmd *cobra.Command, e goextract.Engine, f *extractFlags, args []string) error {
	out := cmd.OutOrStdout()
	opts := f.options(cmd)
	var firstErr error
	for i, name := range args {
		var src goextract.Source
		if name == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			src = goextract.BytesSource(data)
		} else {
			src = goextract.FileSource(name)
		}

		res, err := e.Extract(cmd.Context(), src, opts...)
		if err != nil {
			slog.Error("extract failed", "file", name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", name, err)
			}
			if res == nil {
				continue
			}
		}
		if !f.asJSON && i > 0 {
			fmt.Fprint(out, "\f\n")
		}
		if werr := writeResult(out, name, res, f); werr != nil {
			return werr
		}
		for _, d := range res.Diagnostics {
			slog.Warn("part skipped", "file", name, "part", d.Part, "kind", d.Kind, "error", d.Err)
		}
	}
	return firstErr
}

func writeResult(w io.Writer, name string, res *goextract.Result, f *extractFlags) error {
	if f.asJSON {
		body, err := json.Marshal(res)
		if err != nil {
			return err
		}
		return json.NewEncoder(w).Encode(struct {
			File   string          `json:"file"`
			Result json.RawMessage `json:"result"`
		}{name, body})
	}
	if f.metadata {
		for k, vs := range res.Metadata.All() {
			for _, v := range vs {
				fmt.Fprintf(w, "%s: %s\n", k, v)
			}
		}
		fmt.Fprintln(w)
	}
	if res.Chunks != nil {
		for chunk := range res.Chunks.All() {
			if _, err := io.WriteString(w, chunk); err != nil {
				return err
			}
		}
	} else if _, err := io.WriteString(w, res.Content); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}
