// Copyright 2026 the Code Signing Server authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package signclient

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/townsuite/codesigning/pkg/config"
)

// ResolveFiles expands the configured file specs into a list of regular files.
// A spec is a literal path, a glob pattern or a folder. Folders are scanned,
// recursively if configured. Relative specs are
// taken relative to cfg.Folder. With no specs, cfg.Folder itself is scanned.
//
// Missing files are dropped. Matches of one spec are sorted, and a path
// selected by more than one spec is only returned once.
func ResolveFiles(cfg *config.ClientConfig) ([]string, error) {
	specs := cfg.Files
	if len(specs) == 0 {
		specs = []string{cfg.Folder}
	}

	r := &resolver{
		recursive: cfg.Recursive,
		exclude:   make(map[string]struct{}, len(cfg.ExcludeDirs)),
		exts:      make(map[string]struct{}, len(cfg.Extensions)),
		seen:      make(map[string]struct{}),
	}
	for _, d := range cfg.ExcludeDirs {
		r.exclude[strings.ToLower(d)] = struct{}{}
	}
	for _, e := range cfg.Extensions {
		if e != "" {
			r.exts[e] = struct{}{}
		}
	}

	for _, spec := range specs {
		if spec == "" {
			continue
		}
		if !filepath.IsAbs(spec) && cfg.Folder != "" && spec != cfg.Folder {
			spec = filepath.Join(cfg.Folder, spec)
		}
		if err := r.resolve(filepath.Clean(spec)); err != nil {
			return nil, err
		}
	}
	return r.out, nil
}

type resolver struct {
	recursive bool
	exclude   map[string]struct{}
	exts      map[string]struct{}

	seen map[string]struct{}
	out  []string
}

func (r *resolver) resolve(spec string) error {
	var matches []string

	if strings.ContainsAny(spec, "*?[") {
		globbed, err := filepath.Glob(spec)
		if err != nil {
			return fmt.Errorf("invalid pattern %q: %w", spec, err)
		}
		for _, m := range globbed {
			// Globs select files only, folders are never expanded.
			fi, err := os.Stat(m)
			if err != nil {
				continue
			}
			if fi.Mode().IsRegular() && r.wanted(m) {
				matches = append(matches, m)
			}
		}
	} else {
		fi, err := os.Stat(spec)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil
		case err != nil:
			return fmt.Errorf("failed to stat %s: %w", spec, err)
		case fi.IsDir():
			found, err := r.scan(spec)
			if err != nil {
				return err
			}
			matches = found
		case fi.Mode().IsRegular():
			// Explicitly named files skip the extension filter.
			matches = []string{spec}
		}
	}

	sort.Strings(matches)
	for _, m := range matches {
		abs, err := filepath.Abs(m)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", m, err)
		}
		if _, ok := r.seen[abs]; ok {
			continue
		}
		r.seen[abs] = struct{}{}
		r.out = append(r.out, abs)
	}
	return nil
}

// scan lists the wanted files in dir, descending into subfolders that are not
// excluded when the resolver is recursive.
func (r *resolver) scan(dir string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(dir, func(pth string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if pth == dir {
				return nil
			}
			if !r.recursive {
				return filepath.SkipDir
			}
			if _, ok := r.exclude[strings.ToLower(d.Name())]; ok {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && r.wanted(pth) {
			found = append(found, pth)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	return found, nil
}

func (r *resolver) wanted(pth string) bool {
	if len(r.exts) == 0 {
		return true
	}
	_, ok := r.exts[strings.ToLower(filepath.Ext(pth))]
	return ok
}
