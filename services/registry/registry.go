// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/wardstone-io/wardstone/pkg/logging"
	"github.com/wardstone-io/wardstone/pkg/validation"
)

// ManifestFileName is the manifest file expected inside each overlay
// directory.
const ManifestFileName = "manifest.json"

// cacheEntry pairs a parsed manifest with the content hash of the bytes it
// was parsed from.
type cacheEntry struct {
	hash     string
	manifest *Manifest
}

// Registry resolves overlay names to validated manifests.
//
// # Description
//
// Lookup reads <root>/<name>/manifest.json, hashes the raw bytes, and only
// re-parses when the hash differs from the cached entry. The cache is an
// explicit field of the Registry value, never package state, so tests can
// run isolated instances side by side.
//
// # Thread Safety
//
// Safe for concurrent use; the cache is guarded by a read-write mutex.
type Registry struct {
	root   string
	logger *logging.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// New creates a Registry over the given overlay root directory.
func New(root string, logger *logging.Logger) (*Registry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("overlay root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("overlay root %s is not a directory", root)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		root:   root,
		logger: logger,
		cache:  make(map[string]cacheEntry),
	}, nil
}

// Get resolves an overlay name to its validated manifest.
//
// The name is validated before it touches the filesystem. A cached entry is
// returned when the manifest bytes are unchanged; an edited manifest is
// re-parsed and replaces the stale entry.
func (r *Registry) Get(name string) (*Manifest, error) {
	if err := validation.ValidateOverlayName(name); err != nil {
		return nil, err
	}

	path := filepath.Join(r.root, name, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.evict(name)
			return nil, fmt.Errorf("%w: %s", ErrOverlayNotFound, name)
		}
		return nil, fmt.Errorf("read manifest for %s: %w", name, err)
	}

	hash := ContentHash(data)

	r.mu.RLock()
	entry, ok := r.cache[name]
	r.mu.RUnlock()
	if ok && entry.hash == hash {
		return entry.manifest, nil
	}

	manifest, err := ParseManifest(data)
	if err != nil {
		r.evict(name)
		return nil, fmt.Errorf("overlay %s: %w", name, err)
	}
	if manifest.Name != name {
		r.evict(name)
		return nil, fmt.Errorf("%w: manifest name %q does not match directory %q",
			ErrManifestInvalid, manifest.Name, name)
	}

	r.mu.Lock()
	r.cache[name] = cacheEntry{hash: hash, manifest: manifest}
	r.mu.Unlock()

	if ok {
		r.logger.Info("manifest cache invalidated", "overlay", name, "hash", hash[:12])
	}
	return manifest, nil
}

// List returns the manifests of every overlay directory under the root
// that holds a parseable manifest, sorted by name. Unparseable manifests
// are skipped with a warning rather than failing the listing.
func (r *Registry) List() ([]*Manifest, error) {
	dirents, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("list overlay root %s: %w", r.root, err)
	}

	var manifests []*Manifest
	for _, dirent := range dirents {
		if !dirent.IsDir() {
			continue
		}
		manifest, err := r.Get(dirent.Name())
		if err != nil {
			if !errors.Is(err, ErrOverlayNotFound) {
				r.logger.Warn("skipping overlay with bad manifest",
					"overlay", dirent.Name(), "error", err.Error())
			}
			continue
		}
		manifests = append(manifests, manifest)
	}
	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].Name < manifests[j].Name
	})
	return manifests, nil
}

// CachedCount reports how many manifests are currently cached.
func (r *Registry) CachedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// evict drops one overlay's cache entry.
func (r *Registry) evict(name string) {
	r.mu.Lock()
	if _, ok := r.cache[name]; ok {
		delete(r.cache, name)
		r.logger.Info("manifest cache pruned", "overlay", name)
	}
	r.mu.Unlock()
}

// Watch prunes cache entries when overlay directories disappear.
//
// # Description
//
// Runs an fsnotify watcher on the overlay root until ctx is cancelled.
// Remove and rename events for a direct child directory evict that
// overlay's cache entry; edits to a manifest file need no event handling
// because Get re-checks the content hash on every lookup.
//
// Blocks until ctx is done; run it on its own goroutine.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("registry watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.root); err != nil {
		return fmt.Errorf("watch overlay root %s: %w", r.root, err)
	}
	r.logger.Info("registry watcher started", "root", r.root)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Dir(event.Name) != r.root {
				continue
			}
			r.evict(filepath.Base(event.Name))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("registry watcher error", "error", err.Error())
		}
	}
}
