package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"cs2-demo-pipeline/internal/db"
)

// Demo is one demo file found on disk.
type Demo struct {
	Path string
	Stem string
	Size int64
}

// Discover walks dir recursively for .dem files. Files sharing a natural
// key with an earlier path are skipped. Results are sorted by path.
func Discover(ctx context.Context, dir string, logger zerolog.Logger) ([]Demo, error) {
	var found []Demo
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".dem") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		found = append(found, Demo{Path: path, Stem: db.Stem(path), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk demo directory %s: %w", dir, err)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })

	seen := bloom.NewWithEstimates(uint(len(found)+1)*4, 0.001)
	demos := found[:0]
	var total int64
	for _, d := range found {
		// Only a filter hit pays for the scan of the demos kept so far.
		if seen.TestString(d.Stem) {
			if first, dup := keptStem(demos, d.Stem); dup {
				logger.Warn().Str("demo", d.Path).Str("first", first).Msg("skipping demo with duplicate file stem")
				continue
			}
		}
		seen.AddString(d.Stem)

		total += d.Size
		demos = append(demos, d)
		logger.Debug().Str("demo", d.Path).Str("size", humanize.Bytes(uint64(d.Size))).Msg("discovered demo")
	}
	logger.Info().Int("demos", len(demos)).Str("total_size", humanize.Bytes(uint64(total))).Str("dir", dir).Msg("discovery finished")
	return demos, nil
}

// keptStem returns the path of the kept demo with stem, if any.
func keptStem(demos []Demo, stem string) (string, bool) {
	for _, d := range demos {
		if d.Stem == stem {
			return d.Path, true
		}
	}
	return "", false
}
