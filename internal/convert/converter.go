// Package convert turns downloaded word-processing documents into PDFs by
// running an external converter and checking what it produced.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dl-alexandre/drivepdf/internal/logging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/spf13/afero"
)

// DefaultBinary is the LibreOffice command line entry point
const DefaultBinary = "soffice"

// DefaultArgs converts {input} into a PDF inside {outdir}
var DefaultArgs = []string{"--headless", "--convert-to", "pdf:writer_pdf_Export", "--outdir", "{outdir}", "{input}"}

// maxStderr bounds how much converter output ends up in a log line
const maxStderr = 4096

// OutputName returns the PDF name for a source document name.
// "report.docx" becomes "report.pdf"; a name without extension gets ".pdf" appended.
func OutputName(name string) string {
	ext := filepath.Ext(name)
	switch {
	case ext == "":
		return name + ".pdf"
	case strings.EqualFold(ext, ".pdf"):
		return name
	}
	return strings.TrimSuffix(name, ext) + ".pdf"
}

// CommandFunc builds the process to run. exec.CommandContext satisfies it.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Options configures a Converter.
// Fs must be backed by the same paths the converter process sees.
type Options struct {
	Binary   string
	Args     []string
	Validate bool
	Timeout  time.Duration
	Fs       afero.Fs
}

// Converter runs the external conversion tool
type Converter struct {
	opts     Options
	logger   logging.Logger
	command  CommandFunc
	validate func(fs afero.Fs, path string) (int, error)
}

// NewConverter creates a Converter. Empty Binary/Args fall back to LibreOffice.
func NewConverter(opts Options, logger logging.Logger) *Converter {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if len(opts.Args) == 0 {
		opts.Args = DefaultArgs
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	return &Converter{
		opts:     opts,
		logger:   logger,
		command:  exec.CommandContext,
		validate: ValidatePDF,
	}
}

// WithCommand replaces the process builder
func (c *Converter) WithCommand(fn CommandFunc) *Converter {
	c.command = fn
	return c
}

// Binary returns the converter executable name
func (c *Converter) Binary() string {
	return c.opts.Binary
}

func (c *Converter) expandArgs(inputPath, outputPath string) []string {
	replacer := strings.NewReplacer(
		"{input}", inputPath,
		"{output}", outputPath,
		"{outdir}", filepath.Dir(outputPath),
	)
	args := make([]string, len(c.opts.Args))
	for i, a := range c.opts.Args {
		args[i] = replacer.Replace(a)
	}
	return args
}

// Convert runs the converter on inputPath and reports whether a usable PDF
// now exists at outputPath. Failures are logged, never returned.
func (c *Converter) Convert(ctx context.Context, inputPath, outputPath string) bool {
	logger := c.logger
	if traceID := logging.TraceIDFromContext(ctx); traceID != "" {
		logger = logger.WithTraceID(traceID)
	}

	fs := c.opts.Fs
	if err := fs.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		logger.Error("Cannot create conversion output directory",
			logging.F("dir", filepath.Dir(outputPath)),
			logging.F("error", err.Error()),
		)
		return false
	}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	args := c.expandArgs(inputPath, outputPath)
	cmd := c.command(ctx, c.opts.Binary, args...)
	var stderr, stdout bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stdout

	start := time.Now()
	if err := cmd.Run(); err != nil {
		fields := []logging.Field{
			logging.F("input", inputPath),
			logging.F("binary", c.opts.Binary),
			logging.F("error", err.Error()),
			logging.F("stderr", truncate(stderr.String())),
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			fields = append(fields, logging.F("exitCode", exitErr.ExitCode()))
		}
		logger.Error("Conversion failed", fields...)
		return false
	}

	// LibreOffice names the result after the input inside outdir
	produced := filepath.Join(filepath.Dir(outputPath), OutputName(filepath.Base(inputPath)))
	if produced != outputPath {
		if _, err := fs.Stat(outputPath); os.IsNotExist(err) {
			if err := fs.Rename(produced, outputPath); err != nil && !os.IsNotExist(err) {
				logger.Error("Cannot move converted file into place",
					logging.F("from", produced),
					logging.F("to", outputPath),
					logging.F("error", err.Error()),
				)
				return false
			}
		}
	}

	info, err := fs.Stat(outputPath)
	if err != nil || info.IsDir() {
		logger.Error("Converter exited cleanly but produced no output",
			logging.F("input", inputPath),
			logging.F("expected", outputPath),
			logging.F("stdout", truncate(stdout.String())),
		)
		return false
	}

	fields := []logging.Field{
		logging.F("input", inputPath),
		logging.F("output", outputPath),
		logging.F("bytes", info.Size()),
		logging.F("duration", time.Since(start).String()),
	}
	if c.opts.Validate {
		pages, err := c.validate(fs, outputPath)
		if err != nil {
			logger.Error("Converted file is not a valid PDF",
				logging.F("output", outputPath),
				logging.F("error", err.Error()),
			)
			return false
		}
		fields = append(fields, logging.F("pages", pages))
	}

	logger.Info("Converted document", fields...)
	return true
}

// ValidatePDF parses and validates the PDF at path and returns its page count
func ValidatePDF(fs afero.Fs, path string) (int, error) {
	f, err := fs.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	api.DisableConfigDir()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pdfCtx, err := api.ReadContext(f, conf)
	if err != nil {
		return 0, fmt.Errorf("pdfcpu read: %w", err)
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return 0, fmt.Errorf("pdfcpu validate: %w", err)
	}
	if pdfCtx.PageCount < 1 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	return pdfCtx.PageCount, nil
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		return s[:maxStderr] + "..."
	}
	return s
}
