// Copyright 2025 Arcade Team
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

package promote

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"sigs.k8s.io/yaml"
)

// imageLine captures: indent+dash+key, opening quote, reference, closing
// quote, trailing space/comment, carriage return.
var imageLine = regexp.MustCompile(`^(\s*(?:-\s+)?image:\s*)(["']?)([^"'\s#]+)(["']?)(\s*(?:#.*)?)(\r?)$`)

// PatchImage rewrites the image reference in manifest to ref. Lines whose
// current image belongs to repository are patched; when none match and the
// manifest has exactly one image line, that line is patched. Everything else
// is left byte for byte. changed is false when the manifest already points at
// ref.
func PatchImage(manifest []byte, repository, ref string) (out []byte, changed bool, err error) {
	lines := bytes.SplitAfter(manifest, []byte("\n"))

	var all, matching []int
	for i, line := range lines {
		m := imageLine.FindSubmatch(bytes.TrimSuffix(line, []byte("\n")))
		if m == nil {
			continue
		}
		all = append(all, i)
		if sameRepository(string(m[3]), repository) {
			matching = append(matching, i)
		}
	}

	targets := matching
	if len(targets) == 0 {
		if len(all) != 1 {
			return nil, false, fmt.Errorf("manifest has %d image lines and none for %q", len(all), repository)
		}
		targets = all
	}

	for _, i := range targets {
		line := lines[i]
		nl := bytes.HasSuffix(line, []byte("\n"))
		m := imageLine.FindSubmatch(bytes.TrimSuffix(line, []byte("\n")))
		if string(m[3]) == ref {
			continue
		}
		var b bytes.Buffer
		b.Write(m[1])
		b.Write(m[2])
		b.WriteString(ref)
		b.Write(m[4])
		b.Write(m[5])
		b.Write(m[6])
		if nl {
			b.WriteByte('\n')
		}
		lines[i] = b.Bytes()
		changed = true
	}
	if !changed {
		return manifest, false, nil
	}

	out = bytes.Join(lines, nil)
	if _, err := yaml.YAMLToJSON(out); err != nil {
		return nil, false, fmt.Errorf("patched manifest is not valid yaml: %w", err)
	}
	return out, true, nil
}

// ImageOf returns the first image reference in manifest.
func ImageOf(manifest []byte) (string, bool) {
	for _, line := range bytes.Split(manifest, []byte("\n")) {
		if m := imageLine.FindSubmatch(bytes.TrimSuffix(line, []byte("\r"))); m != nil {
			return string(m[3]), true
		}
	}
	return "", false
}

// sameRepository compares the name part of ref (without tag or digest) with
// repository, which may or may not include the registry host.
func sameRepository(ref, repository string) bool {
	if repository == "" {
		return false
	}
	name := ref
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndexByte(name, ':'); i > strings.LastIndexByte(name, '/') {
		name = name[:i]
	}
	return name == repository || strings.HasSuffix(name, "/"+repository)
}
