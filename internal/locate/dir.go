package locate

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/jward/surface/internal/model"
)

// DefaultCacheSize is the number of files a DirLocator keeps in memory.
const DefaultCacheSize = 4096

// UnitDir describes a unit checked out on disk.
type UnitDir struct {
	ID       model.UnitID
	Dir      string
	Entry    string
	Deps     map[string]model.UnitID
	Features []string
	Cfg      []string
}

type cachedFile struct {
	modTime time.Time
	size    int64
	data    []byte
}

// DirLocator reads units from directories. File contents are cached by
// path, modification time and size, so several sessions over the same
// workspace read each file once.
type DirLocator struct {
	units map[model.UnitID]UnitDir
	files *lru.Cache[string, cachedFile]
}

var skipDirs = map[string]bool{
	"target":  true,
	"vendor":  true,
	"benches": true,
}

func NewDirLocator(units []UnitDir, cacheSize int) (*DirLocator, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, cachedFile](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("file cache: %w", err)
	}
	d := &DirLocator{units: make(map[model.UnitID]UnitDir, len(units)), files: cache}
	for _, u := range units {
		if u.Entry == "" {
			u.Entry = "src/lib.rs"
		}
		d.units[u.ID] = u
	}
	return d, nil
}

func (d *DirLocator) Locate(ctx context.Context, id model.UnitID) (*Source, error) {
	u, ok := d.units[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownUnit)
	}
	paths, err := listSources(u.Dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", u.Dir, err)
	}
	src := &Source{
		Unit:     id,
		Deps:     u.Deps,
		Features: u.Features,
		Cfg:      u.Cfg,
		Entry:    filepath.ToSlash(u.Entry),
		Files:    make(map[string][]byte, len(paths)),
	}
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := d.read(filepath.Join(u.Dir, rel))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		src.Files[filepath.ToSlash(rel)] = data
	}
	if _, ok := src.Files[src.Entry]; !ok {
		return nil, fmt.Errorf("%s: entry file %s not found in %s", id, src.Entry, u.Dir)
	}
	return src, nil
}

func (d *DirLocator) read(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if c, ok := d.files.Get(path); ok && c.modTime.Equal(info.ModTime()) && c.size == info.Size() {
		return c.data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d.files.Add(path, cachedFile{modTime: info.ModTime(), size: info.Size(), data: data})
	return data, nil
}

// listSources returns the .rs files under root, relative to root, skipping
// hidden and build directories and anything the root .gitignore excludes.
func listSources(root string) ([]string, error) {
	gi := loadGitignore(root)
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if skipDirs[name] || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(name) != ".rs" {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func loadGitignore(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}
