package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/joeycumines/behaviord/internal/behavior"
	"github.com/joeycumines/behaviord/internal/storage"
)

// ErrInvalidName is returned for file names that cannot be stored.
var ErrInvalidName = errors.New("server: invalid file name")

type loadState int

const (
	unloaded loadState = iota
	loading
	loaded
	failed
)

type asset struct {
	state   loadState
	doc     *behavior.Document
	err     error
	modTime time.Time
	// version increments whenever a new document becomes resident.
	version uint64
}

// Assets caches behavior documents stored as <Dir>/<name>.<Ext>. Loads and
// directory scans run on their own goroutines; callers observe results on a
// later call, so nothing here blocks a tick except Store.
type Assets struct {
	dir    string
	ext    string
	logger *slog.Logger

	// Loader reads a file. It defaults to os.ReadFile.
	Loader func(path string) ([]byte, error)

	mu       sync.Mutex
	entries  map[string]*asset
	scanning bool
	scan     []string
	scanned  bool
	wg       sync.WaitGroup
}

// NewAssets returns a cache over dir. ext is the file suffix without the
// leading dot.
func NewAssets(dir, ext string, logger *slog.Logger) *Assets {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Assets{
		dir:     dir,
		ext:     strings.TrimPrefix(ext, "."),
		logger:  logger,
		Loader:  os.ReadFile,
		entries: make(map[string]*asset),
	}
}

// Path returns the storage location of name.
func (a *Assets) Path(name string) string {
	return filepath.Join(a.dir, a.trim(name)+"."+a.ext)
}

func (a *Assets) trim(name string) string {
	return strings.TrimSuffix(name, "."+a.ext)
}

// ValidName reports whether name can be stored.
func ValidName(name string) error {
	switch {
	case strings.TrimSpace(name) == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`), strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// List returns the names of the files currently in the directory.
func (a *Assets) List() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	suffix := "." + a.ext
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), suffix))
	}
	slices.Sort(names)
	return names, nil
}

// Document implements behavior.AssetSource. It starts a load on first use.
func (a *Assets) Document(name string) (*behavior.Document, bool, error) {
	name = a.trim(name)
	a.mu.Lock()
	defer a.mu.Unlock()
	e := a.entry(name)
	switch e.state {
	case loaded:
		return e.doc, true, nil
	case failed:
		return nil, true, e.err
	case unloaded:
		a.startLoad(name, e)
	}
	return nil, false, nil
}

// Peek returns the resident document and its version without starting a
// load.
func (a *Assets) Peek(name string) (*behavior.Document, uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[a.trim(name)]
	if !ok || e.state != loaded {
		return nil, 0, false
	}
	return e.doc, e.version, true
}

// Store writes doc to name's file and makes it resident, returning the new
// version.
func (a *Assets) Store(name string, doc *behavior.Document) (uint64, error) {
	if err := ValidName(name); err != nil {
		return 0, err
	}
	data, err := behavior.Encode(doc)
	if err != nil {
		return 0, err
	}
	path := a.Path(name)
	if err := storage.AtomicWriteFile(path, data, 0644); err != nil {
		return 0, fmt.Errorf("server: write %s: %w", path, err)
	}
	var modTime time.Time
	if info, err := os.Stat(path); err == nil {
		modTime = info.ModTime()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	e := a.entry(a.trim(name))
	e.state = loaded
	e.doc = doc.Clone()
	e.err = nil
	e.modTime = modTime
	e.version++
	return e.version, nil
}

// Forget drops the cached entry of name without touching the file.
func (a *Assets) Forget(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, a.trim(name))
}

// StartScan lists the directory in the background, reloading resident
// documents whose modification time changed. The result is collected with
// TakeScan.
func (a *Assets) StartScan() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scanning {
		return
	}
	a.scanning = true
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		names, err := a.List()
		if err != nil {
			a.logger.Warn("[assets] scan failed", "dir", a.dir, "error", err)
		}
		mtimes := make(map[string]time.Time, len(names))
		for _, name := range names {
			if info, err := os.Stat(a.Path(name)); err == nil {
				mtimes[name] = info.ModTime()
			}
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		a.scanning = false
		if err != nil {
			return
		}
		for name, mt := range mtimes {
			e, ok := a.entries[name]
			if !ok || e.state == loading || e.state == unloaded {
				continue
			}
			if !mt.Equal(e.modTime) {
				a.logger.Info("[assets] file changed, reloading", "name", name)
				a.startLoad(name, e)
			}
		}
		a.scan = names
		a.scanned = true
	}()
}

// TakeScan returns the result of the last completed scan, once.
func (a *Assets) TakeScan() ([]string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.scanned {
		return nil, false
	}
	names := a.scan
	a.scan, a.scanned = nil, false
	return names, true
}

// Wait blocks until background loads and scans finish.
func (a *Assets) Wait() {
	a.wg.Wait()
}

// entry must be called with a.mu held.
func (a *Assets) entry(name string) *asset {
	e, ok := a.entries[name]
	if !ok {
		e = &asset{}
		a.entries[name] = e
	}
	return e
}

// startLoad must be called with a.mu held.
func (a *Assets) startLoad(name string, e *asset) {
	e.state = loading
	path := a.Path(name)
	loader := a.Loader
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		var modTime time.Time
		if info, err := os.Stat(path); err == nil {
			modTime = info.ModTime()
		}
		doc, err := a.read(loader, path)

		a.mu.Lock()
		defer a.mu.Unlock()
		if a.entries[name] != e || e.state != loading {
			return
		}
		e.modTime = modTime
		if err != nil {
			a.logger.Warn("[assets] load failed", "name", name, "error", err)
			e.state, e.err = failed, err
			return
		}
		e.state, e.doc, e.err = loaded, doc, nil
		e.version++
		a.logger.Debug("[assets] loaded", "name", name, "version", e.version)
	}()
}

func (a *Assets) read(loader func(string) ([]byte, error), path string) (*behavior.Document, error) {
	data, err := loader(path)
	if err != nil {
		return nil, fmt.Errorf("server: read %s: %w", path, err)
	}
	doc, err := behavior.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("server: decode %s: %w", path, err)
	}
	return doc, nil
}
