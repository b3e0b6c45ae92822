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

package registry

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// ProdEnvironment always receives semantic version tags.
const ProdEnvironment = "prod"

var commitPattern = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

// ShortCommit returns the 7 character abbreviation of a commit hash.
func ShortCommit(commit string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(commit))
	if !commitPattern.MatchString(c) {
		return "", fmt.Errorf("invalid commit hash %q", commit)
	}
	return c[:7], nil
}

// ValidVersion accepts complete 1.2.3 and v1.2.3 style versions, with
// optional pre-release and build metadata.
func ValidVersion(version string) bool {
	v := version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return false
	}
	core, _, _ := strings.Cut(strings.TrimPrefix(v, "v"), "-")
	core, _, _ = strings.Cut(core, "+")
	return strings.Count(core, ".") == 2
}

// tagConvention produces a registry specific tag from a short commit.
type tagConvention func(env, short string) string

func tagFor(conv tagConvention, env, commit, version string) (string, error) {
	if env == ProdEnvironment {
		if !ValidVersion(version) {
			return "", fmt.Errorf("production tags must be a semantic version, got %q", version)
		}
		return version, nil
	}
	short, err := ShortCommit(commit)
	if err != nil {
		return "", err
	}
	return conv(env, short), nil
}

func ghcrTag(_, short string) string { return "sha-" + short }

func plainTag(_, short string) string { return short }

func envTag(env, short string) string { return env + "-" + short }
