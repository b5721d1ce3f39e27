// Package project scans a directory of object definitions and builds the
// initial dependency graph.
package project

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sqlwatch/sqlwatch/internal/entity"
	"github.com/sqlwatch/sqlwatch/internal/graph"
)

// DefaultExtension is the file extension scanned when none is configured.
const DefaultExtension = ".sql"

// Options configures Load.
type Options struct {
	Extension    string
	Variables    map[string]string
	Reader       *Reader
	Concurrency  int
	GraphOptions []graph.Option
	Logger       logrus.FieldLogger
}

// Project is the result of the startup scan.
type Project struct {
	Root  string
	Graph *graph.Graph
	// Files is the number of matching files found.
	Files int
	// Ignored lists files with no recognizable object definition.
	Ignored []string
	// Unreadable lists files that could not be read.
	Unreadable []string
	Duration   time.Duration
}

// Matches reports whether path has the watched extension, ignoring case.
func Matches(path, ext string) bool {
	if ext == "" {
		ext = DefaultExtension
	}
	return strings.EqualFold(filepath.Ext(path), ext)
}

// Scan returns every file under root with the given extension, sorted.
// Hidden directories are skipped.
func Scan(root, ext string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if Matches(path, ext) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// Load reads and parses every definition under root and builds the graph.
func Load(ctx context.Context, root string, opts Options) (*Project, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	reader := opts.Reader
	if reader == nil {
		reader = DefaultReader(logger)
	}
	limit := opts.Concurrency
	if limit < 1 {
		limit = 8
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}

	logger.WithField("root", abs).Info("started analyzing project")
	start := time.Now()

	files, err := Scan(abs, opts.Extension)
	if err != nil {
		return nil, err
	}

	parsed := make([]*entity.Entity, len(files))
	failed := make([]bool, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, path := range files {
		g.Go(func() error {
			content, err := reader.Read(gctx, path)
			switch {
			case err == nil:
			case errors.Is(err, fs.ErrNotExist), errors.Is(err, ErrNoContent):
				logger.WithField("path", path).WithError(err).Warn("skipping unreadable file")
				failed[i] = true
				return nil
			default:
				return err
			}
			parsed[i] = entity.Parse(path, content, opts.Variables)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to read project: %w", err)
	}

	p := &Project{Root: abs, Files: len(files)}
	entities := make([]*entity.Entity, 0, len(files))
	for i, e := range parsed {
		switch {
		case failed[i]:
			p.Unreadable = append(p.Unreadable, files[i])
		case e.Kind == entity.Unknown:
			p.Ignored = append(p.Ignored, files[i])
		default:
			entities = append(entities, e)
		}
	}

	p.Graph = graph.Build(entities, append([]graph.Option{graph.WithLogger(logger)}, opts.GraphOptions...)...)
	p.Duration = time.Since(start)

	for name, paths := range p.Graph.Duplicates() {
		logger.WithFields(logrus.Fields{
			"entity": name,
			"files":  paths,
		}).Warn("object is defined by more than one file; the last one scanned wins")
	}

	logger.WithFields(logrus.Fields{
		"entities": p.Graph.Len(),
		"ignored":  len(p.Ignored),
		"duration": p.Duration,
	}).Info("finished analyzing project")

	return p, nil
}
