package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/mahirjain10/image-variants/internal/utils"
)

// Checkpoint is the resumable progress document. Failed maps a source to
// its last error; failed sources are attempted again on resume.
type Checkpoint struct {
	Processed []string          `json:"processed"`
	Failed    map[string]string `json:"failed"`
	LastIndex int               `json:"lastIndex"`
	UpdatedAt time.Time         `json:"updatedAt"`

	done map[string]bool
}

func newCheckpoint() *Checkpoint {
	return &Checkpoint{Processed: []string{}, Failed: map[string]string{}, LastIndex: -1, done: map[string]bool{}}
}

// LoadCheckpoint returns an empty checkpoint when path does not exist yet.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return newCheckpoint(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	cp := newCheckpoint()
	if err := utils.ParseJSON(data, cp); err != nil {
		return nil, fmt.Errorf("checkpoint %s is corrupt: %w", path, err)
	}
	if cp.Failed == nil {
		cp.Failed = map[string]string{}
	}
	for _, src := range cp.Processed {
		cp.done[src] = true
	}
	return cp, nil
}

// Save replaces the document atomically.
func (c *Checkpoint) Save(path string, now time.Time) error {
	c.UpdatedAt = now.UTC()
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	return utils.WriteFileAtomic(path, data)
}

func (c *Checkpoint) IsProcessed(source string) bool {
	return c.done[source]
}

func (c *Checkpoint) markProcessed(source string) {
	if !c.done[source] {
		c.done[source] = true
		c.Processed = append(c.Processed, source)
	}
	delete(c.Failed, source)
}

func (c *Checkpoint) markFailed(source string, err error) {
	c.Failed[source] = err.Error()
}

// FailedSources lists failed sources in a stable order.
func (c *Checkpoint) FailedSources() []string {
	out := make([]string, 0, len(c.Failed))
	for src := range c.Failed {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}
