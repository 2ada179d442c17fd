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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DedupResult groups files by content.
type DedupResult struct {
	// Unique holds the canonical path of every distinct payload, in the order
	// the paths were given.
	Unique []string

	// Duplicates maps a canonical path to the other paths with the same content.
	Duplicates map[string][]string

	// Digests maps every path to the hex SHA-256 of its content.
	Digests map[string]string
}

// DuplicateCount is the number of paths that will not be uploaded.
func (d *DedupResult) DuplicateCount() int {
	var n int
	for _, dups := range d.Duplicates {
		n += len(dups)
	}
	return n
}

// Dedup hashes every file once and groups the paths by digest. The first path
// of each group is canonical.
func Dedup(ctx context.Context, paths []string) (*DedupResult, error) {
	digests := make([]string, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, pth := range paths {
		i, pth := i, pth
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := hashFile(pth)
			if err != nil {
				return err
			}
			digests[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &DedupResult{
		Duplicates: make(map[string][]string),
		Digests:    make(map[string]string, len(paths)),
	}
	canonical := make(map[string]string, len(paths))
	for i, pth := range paths {
		d := digests[i]
		result.Digests[pth] = d

		if first, ok := canonical[d]; ok {
			result.Duplicates[first] = append(result.Duplicates[first], pth)
			continue
		}
		canonical[d] = pth
		result.Unique = append(result.Unique, pth)
	}
	return result, nil
}

func hashFile(pth string) (string, error) {
	f, err := os.Open(pth)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", pth, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", pth, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
