package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/conorfennell/examcards/internal/domain"
	"github.com/conorfennell/examcards/internal/gitsource"
	"github.com/conorfennell/examcards/internal/knol"
	"github.com/conorfennell/examcards/internal/parser"
	"github.com/conorfennell/examcards/internal/storage"
)

// Report summarizes a sync run across all sources.
type Report struct {
	Sources     int `json:"sources"`
	Parsed      int `json:"parsed"`
	Inserted    int `json:"inserted"`
	Reactivated int `json:"reactivated"`
	Deactivated int `json:"deactivated"`
	Errors      int `json:"errors"`
}

func (r *Report) add(o Report) {
	r.Parsed += o.Parsed
	r.Inserted += o.Inserted
	r.Reactivated += o.Reactivated
	r.Deactivated += o.Deactivated
	r.Errors += o.Errors
}

// Runner reconciles stored cards with the decks found in each source.
// Concurrent calls to Run share a single in-flight sync.
type Runner struct {
	db       *storage.DB
	reposDir string
	group    singleflight.Group
	logger   *slog.Logger
	gitSync  func(ctx context.Context, url, localPath string) error
}

// NewRunner creates a Runner that clones git sources under reposDir.
func NewRunner(db *storage.DB, reposDir string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		db:       db,
		reposDir: reposDir,
		logger:   logger,
		gitSync:  gitsource.Sync,
	}
}

// Run iterates over all sources and reconciles them.
// A failing source is logged and skipped; its error is included in the returned error.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	v, err, shared := r.group.Do("sync", func() (any, error) {
		return r.run(ctx)
	})
	if shared {
		r.logger.Debug("joined in-flight sync")
	}
	report, _ := v.(Report)
	return report, err
}

func (r *Runner) run(ctx context.Context) (Report, error) {
	var report Report

	r.logger.Info("Starting sync process for all sources...")
	sources, err := r.db.GetAllSources(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to get sources: %w", err)
	}

	if len(sources) == 0 {
		r.logger.Info("No sources configured. Add one with --add-source <path/or/url.git>")
		return report, nil
	}

	var errs []error
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		r.logger.Info("Syncing source", "id", source.ID, "type", source.Type, "path", source.Path)
		report.Sources++

		root := source.Path
		if source.Type == storage.SourceGit {
			localRepoPath, err := gitUrlToLocalPath(r.reposDir, source.Path)
			if err != nil {
				r.logger.Error("Error determining local path for git repo", "url", source.Path, "error", err)
				report.Errors++
				errs = append(errs, err)
				continue
			}
			if err := os.MkdirAll(filepath.Dir(localRepoPath), 0o755); err != nil {
				report.Errors++
				errs = append(errs, fmt.Errorf("failed to create repos directory: %w", err))
				continue
			}
			if err := r.gitSync(ctx, source.Path, localRepoPath); err != nil {
				r.logger.Error("Error syncing git repo", "url", source.Path, "error", err)
				report.Errors++
				errs = append(errs, err)
				continue
			}
			root = localRepoPath
		}

		sourceReport, err := r.reconcile(ctx, source.ID, root)
		report.add(sourceReport)
		if err != nil {
			r.logger.Error("Error reconciling source", "id", source.ID, "path", root, "error", err)
			report.Errors++
			errs = append(errs, fmt.Errorf("source %d: %w", source.ID, err))
		}
	}

	r.logger.Info("Sync process complete.",
		"sources", report.Sources,
		"inserted", report.Inserted,
		"reactivated", report.Reactivated,
		"deactivated", report.Deactivated,
		"errors", report.Errors,
	)
	return report, errors.Join(errs...)
}

// reconcile brings the cards stored for sourceID in line with the decks under root.
// Cards that have vanished from the decks are deactivated so review history survives.
func (r *Runner) reconcile(ctx context.Context, sourceID int64, root string) (Report, error) {
	var report Report
	found := make(map[string]bool)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}

		fileCards, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			r.logger.Warn("Failed to parse deck", "path", path, "error", parseErr)
			report.Errors++
			return nil
		}
		for _, card := range fileCards {
			card.ID = knol.Hash(card)
			if found[card.ID] {
				continue
			}
			found[card.ID] = true
			report.Parsed++

			if err := r.upsertCard(ctx, card, sourceID, &report); err != nil {
				return err
			}
		}
		return nil
	})
	if walkErr != nil {
		return report, fmt.Errorf("error walking directory %s: %w", root, walkErr)
	}

	stored, err := r.db.GetCardsBySourceID(ctx, sourceID)
	if err != nil {
		return report, err
	}
	for _, card := range stored {
		if found[card.ID] {
			continue
		}
		r.logger.Info("Card no longer in source, deactivating", "id", card.ID, "exam", card.ExamID)
		if err := r.db.DeactivateCard(ctx, card.ID); err != nil {
			return report, err
		}
		report.Deactivated++
	}

	if err := r.db.UpdateSourceLastScanned(ctx, sourceID); err != nil {
		r.logger.Warn("Failed to update last scanned for source", "source_id", sourceID, "error", err)
	}
	return report, nil
}

func (r *Runner) upsertCard(ctx context.Context, card domain.Card, sourceID int64, report *Report) error {
	existing, err := r.db.FindCard(ctx, card.ID)
	if err != nil {
		return err
	}
	switch {
	case existing == nil:
		r.logger.Debug("New card found, inserting", "id", card.ID, "exam", card.ExamID)
		if err := r.db.InsertCard(ctx, card, sourceID); err != nil {
			return err
		}
		report.Inserted++
	case !existing.Active:
		if err := r.db.ActivateCard(ctx, card.ID, sourceID); err != nil {
			return err
		}
		report.Reactivated++
	case existing.SourceID != sourceID:
		// The same card lives in more than one source; the last one synced owns it.
		if err := r.db.ActivateCard(ctx, card.ID, sourceID); err != nil {
			return err
		}
	}
	return nil
}

func gitUrlToLocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || (parsedURL.Scheme != "https" && parsedURL.Scheme != "http") {
		if strings.Contains(repoURL, "@") {
			parts := strings.Split(repoURL, ":")
			if len(parts) == 2 {
				hostAndUser := strings.Split(parts[0], "@")
				if len(hostAndUser) == 2 {
					host := hostAndUser[1]
					repoPath := strings.TrimSuffix(parts[1], ".git")
					return filepath.Join(baseDir, host, repoPath), nil
				}
			}
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}

	sanitizedPath := strings.TrimSuffix(parsedURL.Path, ".git")
	return filepath.Join(baseDir, parsedURL.Host, sanitizedPath), nil
}
