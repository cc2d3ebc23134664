package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const bookmarkReloadDebounce = 250 * time.Millisecond

type bookmark struct {
	Name       string
	Frequency  int64
	Modulation string
}

func (b bookmark) modulation() string {
	return strings.ToLower(b.Modulation)
}

type bookmarkJSON struct {
	Name       string  `json:"name"`
	Frequency  float64 `json:"frequency"`
	Modulation string  `json:"modulation"`
	Mode       string  `json:"mode"`
}

func (b bookmarkJSON) bookmark() bookmark {
	mod := b.Modulation
	if mod == "" {
		mod = b.Mode
	}
	return bookmark{Name: b.Name, Frequency: int64(b.Frequency), Modulation: mod}
}

// parseBookmarks accepts either a flat array of bookmarks or an object
// mapping a source name to an array. Groups are flattened in key order.
func parseBookmarks(data []byte) ([]bookmark, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var flat []bookmarkJSON
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &flat); err != nil {
			return nil, fmt.Errorf("decoding bookmarks: %w", err)
		}
	case '{':
		var groups map[string]json.RawMessage
		if err := json.Unmarshal(data, &groups); err != nil {
			return nil, fmt.Errorf("decoding bookmarks: %w", err)
		}
		keys := make([]string, 0, len(groups))
		for k := range groups {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			var group []bookmarkJSON
			if err := json.Unmarshal(groups[k], &group); err != nil {
				// not a bookmark group
				continue
			}
			flat = append(flat, group...)
		}
	default:
		return nil, fmt.Errorf("decoding bookmarks: unexpected %q", data[0])
	}

	res := make([]bookmark, 0, len(flat))
	for _, b := range flat {
		res = append(res, b.bookmark())
	}
	return res, nil
}

// bookmarkFile keeps the bookmarks of one file in memory and reloads them
// when the file changes.
type bookmarkFile struct {
	path string

	mutex     sync.RWMutex
	bookmarks []bookmark
}

func newBookmarkFile(path string) *bookmarkFile {
	return &bookmarkFile{path: path}
}

func (f *bookmarkFile) Bookmarks() []bookmark {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.bookmarks
}

func (f *bookmarkFile) load() error {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		data, err = nil, nil
	}
	if err != nil {
		return err
	}
	b, err := parseBookmarks(data)
	if err != nil {
		return err
	}

	f.mutex.Lock()
	f.bookmarks = b
	f.mutex.Unlock()

	log.Print("loaded ", len(b), " bookmarks from ", f.path)
	return nil
}

// watch reloads the file on every change until ctx is done. The parent
// directory is watched so editors that replace the file are noticed too.
func (f *bookmarkFile) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating bookmark watcher: %w", err)
	}
	defer w.Close() //nolint:errcheck

	dir := filepath.Dir(f.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	name := filepath.Clean(f.path)

	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(bookmarkReloadDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error("bookmark watcher: ", err)
		case <-debounceTimer.C:
			if err := f.load(); err != nil {
				log.Error("reloading bookmarks: ", err)
			}
		}
	}
}
