package deck

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/schoolmaps/studyengine/internal/domain"
	"github.com/schoolmaps/studyengine/internal/store"
)

// Source describes one deck source to import: a local directory or a git
// repository of markdown deck files, landing in a named set under a subject.
type Source struct {
	Name     string // target set name
	Subject  string // target set subject
	Location string // local path or git URL
}

// Importer reconciles deck sources into the card store.
type Importer struct {
	store    store.CardStore
	reposDir string // checkout root for git sources
}

// NewImporter creates an Importer that keeps git checkouts under reposDir.
func NewImporter(cs store.CardStore, reposDir string) *Importer {
	return &Importer{store: cs, reposDir: reposDir}
}

// Sync imports every source in turn. A failing source is logged and
// skipped; the remaining sources still run.
func (imp *Importer) Sync(ctx context.Context, sources []Source) {
	if len(sources) == 0 {
		slog.Info("no deck sources configured")
		return
	}
	for _, src := range sources {
		if err := imp.syncSource(ctx, src); err != nil {
			slog.Error("deck source failed", "set", src.Name, "location", src.Location, "error", err)
		}
	}
}

func (imp *Importer) syncSource(ctx context.Context, src Source) error {
	path := src.Location
	if IsGitLocation(src.Location) {
		if err := os.MkdirAll(imp.reposDir, os.ModePerm); err != nil {
			return fmt.Errorf("failed to create repos directory: %w", err)
		}
		local, err := repoLocalPath(imp.reposDir, src.Location)
		if err != nil {
			return err
		}
		if err := fetchRepo(src.Location, local); err != nil {
			return err
		}
		path = local
	}

	entries, err := collectEntries(path)
	if err != nil {
		return err
	}

	set, err := imp.findOrCreateSet(ctx, src)
	if err != nil {
		return err
	}

	existing, err := imp.store.QueryAll(ctx, set.ID)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, c := range existing {
		known[Hash(Entry{Question: c.Question, Answer: c.Answer})] = true
	}

	var fresh []store.NewCard
	for _, e := range entries {
		h := Hash(e)
		if known[h] {
			continue
		}
		known[h] = true
		fresh = append(fresh, store.NewCard{Question: e.Question, Answer: e.Answer})
	}

	if len(fresh) > 0 {
		if _, err := imp.store.AddCards(ctx, set.ID, fresh); err != nil {
			return err
		}
	}
	slog.Info("deck source synced",
		"set", src.Name,
		"parsed", len(entries),
		"inserted", len(fresh),
	)
	return nil
}

// findOrCreateSet resolves the target set by subject and name, creating it
// on first import.
func (imp *Importer) findOrCreateSet(ctx context.Context, src Source) (*domain.Set, error) {
	sets, err := imp.store.ListSets(ctx, src.Subject)
	if err != nil {
		return nil, err
	}
	for _, s := range sets {
		if s.Name == src.Name {
			cp := s
			return &cp, nil
		}
	}
	return imp.store.CreateSet(ctx, src.Name, src.Subject)
}

// collectEntries walks a directory and parses every markdown file in it.
func collectEntries(root string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		fileEntries, parseErr := ParseFile(path)
		if parseErr != nil {
			return fmt.Errorf("parsing %s: %w", path, parseErr)
		}
		entries = append(entries, fileEntries...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk deck directory %s: %w", root, err)
	}
	return entries, nil
}
