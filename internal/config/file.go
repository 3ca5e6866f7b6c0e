package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/egorky/iafsm/pkg/domain"
	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Layout of a configuration directory.
const (
	StatesBaseName = "states"
	APIDir         = "api_definitions"
	ScriptsDir     = "scripts"
)

var configExts = []string{".json", ".yaml", ".yml"}

// FileSource reads states.{json,yaml} and api_definitions/*.{json,yaml} from a directory.
type FileSource struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger
}

// FileOption configures a FileSource.
type FileOption func(*FileSource)

// WithDebounce sets how long Watch waits for a burst of writes to settle.
func WithDebounce(d time.Duration) FileOption {
	return func(s *FileSource) {
		s.debounce = d
	}
}

// WithFileLogger sets the logger of the source.
func WithFileLogger(logger *slog.Logger) FileOption {
	return func(s *FileSource) {
		s.logger = logger
	}
}

// NewFileSource creates a source rooted at dir.
func NewFileSource(dir string, opts ...FileOption) *FileSource {
	s := &FileSource{
		dir:      dir,
		debounce: 200 * time.Millisecond,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the configuration directory.
func (s *FileSource) Dir() string {
	return s.dir
}

// ScriptsDir returns the directory scripts are resolved against.
func (s *FileSource) ScriptsDir() string {
	return filepath.Join(s.dir, ScriptsDir)
}

// Load reads the whole directory.
func (s *FileSource) Load(_ context.Context) (domain.StatesDocument, []domain.APIDefinition, error) {
	var doc domain.StatesDocument

	statesPath, err := s.statesFile()
	if err != nil {
		return doc, nil, err
	}
	if err := decodeFile(statesPath, &doc); err != nil {
		return doc, nil, err
	}

	apis, err := s.loadAPIs()
	if err != nil {
		return doc, nil, err
	}
	return doc, apis, nil
}

func (s *FileSource) statesFile() (string, error) {
	for _, ext := range configExts {
		p := filepath.Join(s.dir, StatesBaseName+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no %s.{json,yaml,yml} in %q: %w", StatesBaseName, s.dir, os.ErrNotExist)
}

func (s *FileSource) loadAPIs() ([]domain.APIDefinition, error) {
	dir := filepath.Join(s.dir, APIDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("API definitions directory not found, no external APIs configured", "dir", dir)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isConfigFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		apis []domain.APIDefinition
		errs *multierror.Error
	)
	for _, name := range names {
		var def domain.APIDefinition
		if err := decodeFile(filepath.Join(dir, name), &def); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if def.ID == "" {
			def.ID = strings.TrimSuffix(name, filepath.Ext(name))
		}
		apis = append(apis, def)
	}
	return apis, errs.ErrorOrNil()
}

// Watch emits the path of changed configuration files, debounced.
func (s *FileSource) Watch(ctx context.Context) (<-chan string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch dir %q: %w", s.dir, err)
	}
	if apiDir := filepath.Join(s.dir, APIDir); dirExists(apiDir) {
		if err := watcher.Add(apiDir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch dir %q: %w", apiDir, err)
		}
	}

	out := make(chan string, 1)
	go func() {
		defer close(out)
		defer watcher.Close()

		var (
			timer   *time.Timer
			fire    <-chan time.Time
			pending string
		)
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isConfigFile(event.Name) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				pending = event.Name
				if timer == nil {
					timer = time.NewTimer(s.debounce)
				} else {
					timer.Reset(s.debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				select {
				case out <- pending:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Error("config watcher error", "err", err)
			}
		}
	}()
	return out, nil
}

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %q: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, v)
	} else {
		err = yaml.Unmarshal(data, v)
	}
	if err != nil {
		return fmt.Errorf("parse %q: %w", path, err)
	}
	return nil
}

func isConfigFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range configExts {
		if ext == e {
			return true
		}
	}
	return false
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
