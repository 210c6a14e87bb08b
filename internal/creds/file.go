package creds

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileProvider serves credentials from a JSON file and reloads it when the
// file changes, so rotated secrets are picked up without a restart. The
// initial load must succeed; later reload failures keep the last good
// credentials.
type FileProvider struct {
	path    string
	log     zerolog.Logger
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current Credentials

	closeOnce sync.Once
	done      chan struct{}
}

func NewFileProvider(path string, logger zerolog.Logger) (*FileProvider, error) {
	p := &FileProvider{
		path: filepath.Clean(path),
		log:  logger,
		done: make(chan struct{}),
	}
	current, err := readCredentialsFile(p.path)
	if err != nil {
		return nil, err
	}
	p.current = current

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("credential watcher: %w", err)
	}
	// Watch the directory, not the file: editors and secret managers
	// typically replace the file via rename.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("credential watcher: %w", err)
	}
	p.watcher = watcher
	go p.watch()
	return p, nil
}

func (p *FileProvider) Credentials(context.Context) (Credentials, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, nil
}

func (p *FileProvider) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.watcher.Close()
	})
	return err
}

func (p *FileProvider) watch() {
	for {
		select {
		case <-p.done:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			current, err := readCredentialsFile(p.path)
			if err != nil {
				p.log.Error().Err(err).Str("path", p.path).Msg("credential reload failed, keeping previous")
				continue
			}
			p.mu.Lock()
			p.current = current
			p.mu.Unlock()
			p.log.Info().Str("path", p.path).Msg("credentials reloaded")
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log.Error().Err(err).Msg("credential watcher error")
		}
	}
}

func readCredentialsFile(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var current Credentials
	if err := json.Unmarshal(data, &current); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials: %w", err)
	}
	if current.Username == "" || current.Password == "" {
		return Credentials{}, fmt.Errorf("credentials file %s missing username or password", path)
	}
	return current, nil
}
