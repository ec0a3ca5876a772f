// Package library fills the song catalog from a directory of kara metadata
// files and keeps it in sync while the directory changes.
package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/logger"
	"golang.org/x/sync/errgroup"
)

// ScanResult represents the result of a scan operation
type ScanResult struct {
	TotalFiles    int
	ImportedSongs int
	FailedFiles   int
	SkippedFiles  int
	Duration      time.Duration
	Errors        []error
}

// SongStore is where scanned songs are written.
type SongStore interface {
	Upsert(ctx context.Context, songs []*domain.Song) error
	Delete(ctx context.Context, id string) error
}

// Scanner imports kara files into the catalog tables.
type Scanner struct {
	songs SongStore
	log   *logger.Logger

	isScanning bool

	// Configuration
	recursive       bool
	followSymlinks  bool
	workerCount     int
	batchSize       int
	filePatterns    []string
	excludePatterns []string

	// kid declared by each file seen so far, for removals
	paths map[string]string

	mu sync.RWMutex
}

type scanned struct {
	path string
	song *domain.Song
	err  error
}

func NewScanner(songs SongStore, log *logger.Logger, workers int) *Scanner {
	if log == nil {
		log = logger.Nop()
	}
	if workers < 1 {
		workers = 1
	}
	return &Scanner{
		songs:           songs,
		log:             log,
		recursive:       true,
		followSymlinks:  false,
		workerCount:     workers,
		batchSize:       200,
		filePatterns:    []string{"*.kara.json"},
		excludePatterns: []string{"*.tmp", "*.partial", ".*"},
		paths:           make(map[string]string),
	}
}

// ScanFolder parses every kara file under root and upserts the songs.
// Files that fail to parse are counted and reported but do not stop the scan.
func (s *Scanner) ScanFolder(ctx context.Context, root string) (*ScanResult, error) {
	s.mu.Lock()
	if s.isScanning {
		s.mu.Unlock()
		return nil, fmt.Errorf("scan already in progress")
	}
	s.isScanning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isScanning = false
		s.mu.Unlock()
	}()

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open library: %w", err)
	}
	if !info.IsDir() {
		return nil, domain.NewValidationError("path", root+" is not a directory")
	}

	startTime := time.Now()
	result := &ScanResult{}

	files := make(chan string, 100)
	parsed := make(chan scanned, 100)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(files)
		return s.walkDirectory(gctx, root, files)
	})

	var workers sync.WaitGroup
	for i := 0; i < s.workerCount; i++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			s.scanWorker(gctx, files, parsed)
			return nil
		})
	}
	go func() {
		workers.Wait()
		close(parsed)
	}()

	s.log.Info("Starting scan", logger.String("path", root))

	byKID := make(map[string]string)
	var songs []*domain.Song
	for sc := range parsed {
		result.TotalFiles++
		if sc.err != nil {
			result.FailedFiles++
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", sc.path, sc.err))
			s.log.Warn("Failed to read kara file", logger.String("path", sc.path), logger.Err(sc.err))
			continue
		}
		if first, dup := byKID[sc.song.ID]; dup {
			result.SkippedFiles++
			s.log.Warn("Duplicate kid in library",
				logger.String("kid", sc.song.ID),
				logger.String("path", sc.path),
				logger.String("first", first))
			continue
		}
		byKID[sc.song.ID] = sc.path
		songs = append(songs, sc.song)
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(songs, func(i, j int) bool { return songs[i].ID < songs[j].ID })
	for start := 0; start < len(songs); start += s.batchSize {
		end := start + s.batchSize
		if end > len(songs) {
			end = len(songs)
		}
		if err := s.songs.Upsert(ctx, songs[start:end]); err != nil {
			return result, fmt.Errorf("failed to save songs: %w", err)
		}
		result.ImportedSongs += end - start
	}

	s.mu.Lock()
	for kid, path := range byKID {
		s.paths[path] = kid
	}
	s.mu.Unlock()

	result.Duration = time.Since(startTime)

	s.log.Info("Scan completed",
		logger.Int("total_files", result.TotalFiles),
		logger.Int("imported", result.ImportedSongs),
		logger.Int("failed", result.FailedFiles),
		logger.Int("skipped", result.SkippedFiles),
		logger.Duration("duration", result.Duration),
	)

	return result, nil
}

func (s *Scanner) walkDirectory(ctx context.Context, root string, out chan<- string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			s.log.Warn("Error accessing path", logger.String("path", path), logger.Err(err))
			return nil
		}

		if d.IsDir() {
			if path != root && (!s.recursive || strings.HasPrefix(d.Name(), ".")) {
				return fs.SkipDir
			}
			return nil
		}

		if !s.followSymlinks && d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		if s.matchesPattern(path) && !s.isExcluded(path) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- path:
			}
		}
		return nil
	})
}

func (s *Scanner) scanWorker(ctx context.Context, files <-chan string, out chan<- scanned) {
	for path := range files {
		song, err := ReadKaraFile(path)
		select {
		case out <- scanned{path: path, song: song, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// Watch applies changes under root to the catalog until ctx is done. Run
// ScanFolder first so that removals of already known files are resolved.
func (s *Scanner) Watch(ctx context.Context, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := s.watchTree(watcher, root); err != nil {
		return err
	}
	s.log.Info("Watching library", logger.String("path", root))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, watcher, ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("Library watcher error", logger.Err(err))
		}
	}
}

func (s *Scanner) watchTree(watcher *fsnotify.Watcher, root string) error {
	if !s.recursive {
		return watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (s *Scanner) handleEvent(ctx context.Context, watcher *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) && s.recursive {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := s.watchTree(watcher, ev.Name); err != nil {
				s.log.Warn("Failed to watch new directory", logger.String("path", ev.Name), logger.Err(err))
			}
			return
		}
	}

	if !s.matchesPattern(ev.Name) || s.isExcluded(ev.Name) {
		return
	}

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		s.forget(ctx, ev.Name)
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		s.refresh(ctx, ev.Name)
	}
}

func (s *Scanner) refresh(ctx context.Context, path string) {
	song, err := ReadKaraFile(path)
	if err != nil {
		// editors often write in several steps; the next event retries
		s.log.Debug("Skipping unreadable kara file", logger.String("path", path), logger.Err(err))
		return
	}
	if err := s.songs.Upsert(ctx, []*domain.Song{song}); err != nil {
		s.log.Warn("Failed to save song", logger.String("kid", song.ID), logger.Err(err))
		return
	}

	s.mu.Lock()
	previous := s.paths[path]
	s.paths[path] = song.ID
	s.mu.Unlock()

	if previous != "" && previous != song.ID {
		s.remove(ctx, previous)
	}
	s.log.Info("Catalog song updated", logger.String("kid", song.ID), logger.String("path", path))
}

func (s *Scanner) forget(ctx context.Context, path string) {
	s.mu.Lock()
	kid := s.paths[path]
	delete(s.paths, path)
	s.mu.Unlock()

	if kid != "" {
		s.remove(ctx, kid)
	}
}

func (s *Scanner) remove(ctx context.Context, kid string) {
	if err := s.songs.Delete(ctx, kid); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.log.Warn("Failed to remove song", logger.String("kid", kid), logger.Err(err))
		return
	}
	s.log.Info("Catalog song removed", logger.String("kid", kid))
}

// IsScanning returns whether a scan is in progress
func (s *Scanner) IsScanning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isScanning
}

func (s *Scanner) matchesPattern(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	for _, pattern := range s.filePatterns {
		if matched, _ := filepath.Match(strings.ToLower(pattern), name); matched {
			return true
		}
	}
	return false
}

func (s *Scanner) isExcluded(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	for _, pattern := range s.excludePatterns {
		if matched, _ := filepath.Match(strings.ToLower(pattern), name); matched {
			return true
		}
	}
	return false
}
