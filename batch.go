package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mahirjain10/image-variants/internal/batch"
)

var batchCmd = &cobra.Command{
	Use:   "batch [source...]",
	Short: "Process many sources in checkpointed sub-batches",
	Long: `Processes sources in fixed-width sub-batches, writing progress to a JSON
checkpoint after each one. Re-running with the same checkpoint skips sources
already processed. Sources come from the arguments and/or --file (one per
line, "-" for stdin).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		sources, err := collectSources(args, file)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			return fmt.Errorf("no sources given")
		}

		app, err := newAppFromCmd(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		names, _ := cmd.Flags().GetStringSlice("variants")
		variants, err := app.variants.Select(names)
		if err != nil {
			return err
		}

		opts := batch.Options{
			Width:          app.config.BatchWidth,
			Deadline:       app.config.BatchDeadline,
			CheckpointPath: app.config.CheckpointPath,
		}
		if cmd.Flags().Changed("checkpoint") {
			opts.CheckpointPath, _ = cmd.Flags().GetString("checkpoint")
		}
		if cmd.Flags().Changed("width") {
			opts.Width, _ = cmd.Flags().GetInt("width")
		}
		if cmd.Flags().Changed("deadline") {
			opts.Deadline, _ = cmd.Flags().GetDuration("deadline")
		}

		report, err := batch.NewRunner(app.pipeline, opts, app.log).Run(cmd.Context(), sources, variants, nil)
		if report != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(report); encErr != nil {
				return encErr
			}
			app.log.Info("batch finished",
				zap.Int("processed", report.Processed),
				zap.Int("failed", len(report.Failed)),
				zap.Int("skipped", report.Skipped),
				zap.Bool("incomplete", report.Incomplete))
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringP("file", "f", "", "File listing one source per line (- for stdin)")
	batchCmd.Flags().StringSlice("variants", nil, "Variant presets to produce (default: all)")
	batchCmd.Flags().String("checkpoint", "", "Checkpoint path (default CHECKPOINT_PATH)")
	batchCmd.Flags().Int("width", 0, "Sources processed concurrently per sub-batch (default BATCH_WIDTH)")
	batchCmd.Flags().Duration("deadline", 0, "Overall time limit (default BATCH_DEADLINE)")
}

func collectSources(args []string, file string) ([]string, error) {
	sources := append([]string(nil), args...)
	if file == "" {
		return sources, nil
	}
	var r io.Reader
	if file == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open source list: %w", err)
		}
		defer f.Close()
		r = f
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sources = append(sources, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read source list: %w", err)
	}
	return sources, nil
}
