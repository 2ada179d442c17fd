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
	"fmt"
	"os"
	"sort"
)

// DistributeDuplicates copies the signed result of every canonical file in
// signed over its duplicates. In detached mode the signature is copied next to
// each duplicate instead. Duplicates of a canonical file that was not signed
// are reported as failures.
func (c *Client) DistributeDuplicates(dedup *DedupResult, signed map[string]struct{}) ([]string, []*Failure) {
	canonicals := make([]string, 0, len(dedup.Duplicates))
	for k := range dedup.Duplicates {
		canonicals = append(canonicals, k)
	}
	sort.Strings(canonicals)

	var copied []string
	var failures []*Failure
	for _, canonical := range canonicals {
		dups := dedup.Duplicates[canonical]

		if _, ok := signed[canonical]; !ok {
			for _, dup := range dups {
				failures = append(failures, &Failure{
					Path:    dup,
					Message: fmt.Sprintf("duplicate of %s, which was not signed", canonical),
				})
			}
			continue
		}

		for _, dup := range dups {
			if err := copyFile(c.outputPath(canonical), c.outputPath(dup)); err != nil {
				failures = append(failures, &Failure{Path: dup, Message: err.Error()})
				continue
			}
			copied = append(copied, dup)
		}
	}
	return copied, failures
}

func copyFile(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open signed file: %w", err)
	}
	defer f.Close()

	if err := writeFile(dst, f); err != nil {
		return fmt.Errorf("failed to copy signed file: %w", err)
	}
	return nil
}
