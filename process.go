package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var processCmd = &cobra.Command{
	Use:   "process <source>",
	Short: "Produce variants for one local file, http(s) URL or s3:// object",
	Example: `  image-variants process ./photo.jpg
  image-variants process https://example.com/a.jpg --variants thumbnail,full --tag owner=u1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		rawTags, _ := cmd.Flags().GetStringSlice("tag")
		tags, err := parseTags(rawTags)
		if err != nil {
			return err
		}

		results, runErr := app.pipeline.Run(cmd.Context(), args[0], variants, tags)
		if len(results) > 0 {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}
		}
		if runErr != nil {
			app.log.Error("processing failed", zap.String("source", args[0]), zap.Error(runErr))
			return runErr
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringSlice("variants", nil, "Variant presets to produce (default: all)")
	processCmd.Flags().StringSlice("tag", nil, "Metadata tag key=value attached to stored objects (repeatable)")
}

func parseTags(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid tag %q, expected key=value", kv)
		}
		tags[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return tags, nil
}
