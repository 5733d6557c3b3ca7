package utils

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ScratchPrefix names the per-run directories the pipeline creates.
const ScratchPrefix = "variants-run-"

// RemoveStaleScratch deletes run directories under root last modified
// before now-maxAge. Only a process killed mid-run leaves these behind.
func RemoveStaleScratch(ctx context.Context, root string, maxAge time.Duration, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scratch root: %w", err)
	}

	var removed, errs []string
	cutoff := now.Add(-maxAge)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), ScratchPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		removed = append(removed, dir)
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("cleanup errors: %s", strings.Join(errs, " | "))
	}
	return removed, nil
}
