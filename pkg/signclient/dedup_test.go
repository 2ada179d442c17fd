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
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/townsuite/codesigning/internal/project"
)

func TestDedup(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"0.exe": "alpha",
		"1.exe": "beta",
		"2.exe": "alpha",
		"3.exe": "gamma",
		"4.exe": "alpha",
		"5.exe": "beta",
	})

	var paths []string
	for _, n := range []string{"0.exe", "1.exe", "2.exe", "3.exe", "4.exe", "5.exe"} {
		paths = append(paths, filepath.Join(root, n))
	}

	result, err := Dedup(ctx, paths)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{paths[0], paths[1], paths[3]}, result.Unique); diff != "" {
		t.Errorf("unique mismatch (-want, +got):\n%s", diff)
	}

	wantDups := map[string][]string{
		paths[0]: {paths[2], paths[4]},
		paths[1]: {paths[5]},
	}
	if diff := cmp.Diff(wantDups, result.Duplicates); diff != "" {
		t.Errorf("duplicates mismatch (-want, +got):\n%s", diff)
	}

	if got, want := result.DuplicateCount(), len(paths)-len(result.Unique); got != want {
		t.Errorf("expected %d to be %d", got, want)
	}

	// sha256("alpha")
	if got, want := result.Digests[paths[2]], "8ed3f6ad685b959ead7022518e1af76cd816f8e8ec7ccdda1ed4018e8f2223f8"; got != want {
		t.Errorf("expected %s to be %s", got, want)
	}
}

func TestDedup_MissingFile(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)
	if _, err := Dedup(ctx, []string{filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Fatal("expected error")
	}
}
