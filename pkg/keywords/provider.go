package keywords

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// LoadSpec reads and parses a corpus spec from a JSON rules file
func LoadSpec(path string) (*CorpusSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var spec CorpusSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	return &spec, nil
}

// Provider owns the active corpus and supports hot-reloading it from a
// rules file. Readers always see a complete corpus; reloads swap the
// pointer atomically under the mutex and never leave a partial table
// visible.
type Provider struct {
	path         string
	corpus       *Corpus
	logger       *logrus.Logger
	watcher      *fsnotify.Watcher
	mutex        sync.RWMutex
	reloadChan   chan struct{}
	stopChan     chan struct{}
	debounceTime time.Duration
	started      bool
}

// NewProvider creates a corpus provider. With an empty path the built-in
// tables are used and hot-reload is unavailable. With a path, the file is
// loaded immediately and a load failure is fatal at startup (a bad file
// found later, during a reload, only keeps the previous corpus).
func NewProvider(path string, logger *logrus.Logger) (*Provider, error) {
	provider := &Provider{
		path:         path,
		logger:       logger,
		reloadChan:   make(chan struct{}, 1),
		stopChan:     make(chan struct{}),
		debounceTime: 2 * time.Second,
	}

	if path == "" {
		provider.corpus = DefaultCorpus()
		logger.WithField("rules", provider.corpus.RuleCount()).Info("Keyword corpus loaded from built-in tables")
		return provider, nil
	}

	spec, err := LoadSpec(path)
	if err != nil {
		return nil, err
	}
	corpus, err := Compile(spec)
	if err != nil {
		return nil, err
	}
	provider.corpus = corpus

	logger.WithFields(logrus.Fields{
		"path":    path,
		"version": corpus.Version,
		"rules":   corpus.RuleCount(),
	}).Info("Keyword corpus loaded from rules file")

	return provider, nil
}

// Corpus returns the active corpus
func (p *Provider) Corpus() *Corpus {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.corpus
}

// StartWatching begins watching the rules file for changes
func (p *Provider) StartWatching() error {
	if p.path == "" {
		return fmt.Errorf("no rules file configured, nothing to watch")
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.started {
		return fmt.Errorf("corpus watcher already started")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	p.watcher = watcher

	if err := watcher.Add(p.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch rules file: %w", err)
	}
	// Watch the directory too, so editors that replace the file are seen
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		p.logger.WithError(err).Warning("Failed to watch rules directory")
	}

	p.started = true

	go p.watchFiles()
	go p.handleReloads()

	p.logger.WithField("path", p.path).Info("Keyword corpus hot-reload started")
	return nil
}

// Stop stops the file watcher
func (p *Provider) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.started {
		return
	}

	close(p.stopChan)
	p.watcher.Close()
	p.started = false

	p.logger.Info("Keyword corpus hot-reload stopped")
}

func (p *Provider) watchFiles() {
	for {
		select {
		case <-p.stopChan:
			return

		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != filepath.Base(p.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			select {
			case p.reloadChan <- struct{}{}:
				p.logger.Debug("Corpus reload triggered by file change")
			default:
				// Reload already pending
			}

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.WithError(err).Error("Rules file watcher error")
		}
	}
}

func (p *Provider) handleReloads() {
	for {
		select {
		case <-p.stopChan:
			return

		case <-p.reloadChan:
			// Debounce rapid successive writes
			time.Sleep(p.debounceTime)
		drainLoop:
			for {
				select {
				case <-p.reloadChan:
				default:
					break drainLoop
				}
			}

			p.reload()
		}
	}
}

// reload loads and validates the rules file, keeping the previous corpus
// when the new file is broken
func (p *Provider) reload() {
	spec, err := LoadSpec(p.path)
	if err != nil {
		p.logger.WithError(err).Error("Corpus reload failed, keeping previous tables")
		return
	}

	corpus, err := Compile(spec)
	if err != nil {
		p.logger.WithError(err).Error("Corpus validation failed, keeping previous tables")
		return
	}

	p.mutex.Lock()
	old := p.corpus
	p.corpus = corpus
	p.mutex.Unlock()

	p.logger.WithFields(logrus.Fields{
		"version":        corpus.Version,
		"rules":          corpus.RuleCount(),
		"previous_rules": old.RuleCount(),
	}).Info("Keyword corpus reloaded")
}
