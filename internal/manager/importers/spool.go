package importers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/code-sleuth/roeum-go/internal/manager/interfaces"
	"github.com/code-sleuth/roeum-go/internal/manager/models"
	"github.com/code-sleuth/roeum-go/pkg/util"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	spoolExt    = ".jsonl"
	spoolDone   = "done"
	spoolFailed = "failed"
)

var ErrNotADirectory = errors.New("source is not a directory")

// SpoolImporter watches a directory for *.jsonl files dropped by the
// scraper. Files must appear atomically (written elsewhere, then renamed
// into the directory). A file moves to done/ only after every document read
// from it has been acknowledged through RawDocument.Done, and to failed/ when
// it cannot be read. Files still in flight at shutdown stay in place and are
// read again on the next run.
type SpoolImporter struct {
	jsonl  *JSONLImporter
	logger zerolog.Logger
}

// NewSpoolImporter creates a spool directory importer.
func NewSpoolImporter() *SpoolImporter {
	return &SpoolImporter{
		jsonl:  NewJSONLImporter(),
		logger: util.NewLogger(util.LevelFromEnv("LOG_LEVEL", zerolog.ErrorLevel)),
	}
}

// GetSourceType returns the source type this importer handles.
func (s *SpoolImporter) GetSourceType() string {
	return "spool"
}

// ValidateSource checks that source is an existing directory.
func (s *SpoolImporter) ValidateSource(source string) error {
	if strings.TrimSpace(source) == "" {
		return ErrSourceEmpty
	}
	info, err := os.Stat(source)
	if err != nil {
		s.logger.Error().Err(err).Str("source", source).Msg("failed to stat spool directory")
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotADirectory, source)
	}
	return nil
}

// Import drains the files already in the spool, then processes new ones
// as they arrive. It blocks until ctx is done, which is a normal stop.
func (s *SpoolImporter) Import(ctx context.Context, source string, out chan<- *models.RawDocument) (*interfaces.ImportResult, error) {
	if err := s.ValidateSource(source); err != nil {
		return nil, err
	}
	for _, sub := range []string{spoolDone, spoolFailed} {
		if err := os.MkdirAll(filepath.Join(source, sub), 0o755); err != nil {
			s.logger.Error().Err(err).Str("dir", sub).Msg("failed to create spool subdirectory")
			return nil, err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to create watcher")
		return nil, err
	}
	defer watcher.Close()

	// Watch before the initial scan so files landing in between are seen.
	if err := watcher.Add(source); err != nil {
		s.logger.Error().Err(err).Str("source", source).Msg("failed to watch spool directory")
		return nil, err
	}

	result := &interfaces.ImportResult{Source: source}

	existing, err := filepath.Glob(filepath.Join(source, "*"+spoolExt))
	if err != nil {
		return nil, err
	}
	sort.Strings(existing)
	for _, path := range existing {
		if err := s.processFile(ctx, source, path, out, result); err != nil {
			return stopped(result, err)
		}
	}

	s.logger.Info().Str("source", source).Msg("watching spool directory")

	for {
		select {
		case <-ctx.Done():
			return stopped(result, ctx.Err())

		case ev, ok := <-watcher.Events:
			if !ok {
				return result, nil
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			if filepath.Ext(ev.Name) != spoolExt || filepath.Dir(ev.Name) != filepath.Clean(source) {
				continue
			}
			if err := s.processFile(ctx, source, ev.Name, out, result); err != nil {
				return stopped(result, err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return result, nil
			}
			s.logger.Warn().Err(err).Str("source", source).Msg("watcher error")
		}
	}
}

// processFile imports one spool file and files it away. Files that vanished
// (already processed, or renamed away) are ignored.
func (s *SpoolImporter) processFile(
	ctx context.Context,
	dir, path string,
	out chan<- *models.RawDocument,
	result *interfaces.ImportResult,
) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		s.logger.Error().Err(err).Str("file", path).Msg("failed to open spool file")
		return s.move(dir, path, spoolFailed)
	}
	if info, err := f.Stat(); err != nil || info.IsDir() {
		f.Close()
		return nil
	}

	acks := &fileAcks{}
	docs := make(chan *models.RawDocument)
	forwarded := make(chan error, 1)
	go func() {
		var sendErr error
		for doc := range docs {
			if sendErr != nil {
				continue
			}
			acks.track(doc)
			if sendErr = send(ctx, out, doc); sendErr != nil {
				doc.Done(sendErr)
			}
		}
		forwarded <- sendErr
	}()

	res, err := s.jsonl.ImportReader(ctx, f, path, docs)
	close(docs)
	f.Close()
	if fwdErr := <-forwarded; err == nil {
		err = fwdErr
	}
	if res != nil {
		result.Documents += res.Documents
		result.Skipped += res.Skipped
	}

	if err == nil {
		err = acks.wait(ctx)
	}

	switch {
	case err != nil && ctx.Err() != nil:
		// Left in place; the next run starts the file over.
		return ctx.Err()
	case err != nil:
		s.logger.Error().Err(err).Str("file", path).Msg("failed to import spool file")
		return s.move(dir, path, spoolFailed)
	}

	if failed := acks.failures(); failed > 0 {
		s.logger.Warn().Str("file", path).Int("failed", failed).Msg("some spool documents failed to process")
	}
	return s.move(dir, path, spoolDone)
}

// fileAcks counts the outstanding documents of one spool file.
type fileAcks struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	failed int
}

func (a *fileAcks) track(doc *models.RawDocument) {
	a.wg.Add(1)
	var once sync.Once
	doc.Ack = func(err error) {
		once.Do(func() {
			if err != nil {
				a.mu.Lock()
				a.failed++
				a.mu.Unlock()
			}
			a.wg.Done()
		})
	}
}

func (a *fileAcks) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *fileAcks) failures() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failed
}

func (s *SpoolImporter) move(dir, path, sub string) error {
	dst := filepath.Join(dir, sub, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		s.logger.Error().Err(err).Str("file", path).Str("to", dst).Msg("failed to move spool file")
		return err
	}
	s.logger.Debug().Str("file", path).Str("to", dst).Msg("spool file processed")
	return nil
}

func stopped(result *interfaces.ImportResult, err error) (*interfaces.ImportResult, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return result, nil
	}
	return result, err
}
