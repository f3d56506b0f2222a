// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package version provides information about sqlorm version and build configuration.
//
// # Extra files
//
// The following text files may be present in this directory during building:
//   - version.txt (required) contains the version in a format similar to `git describe` output:
//     `v<major>.<minor>.<patch>`.
//   - commit.txt (optional) contains the source git commit.
//
// # Go build tags
//
//	sqlorm_dev - enables development build (implied by builds with race detector)
package version

import (
	"embed"
	"fmt"
	"regexp"
	"runtime"
	runtimedebug "runtime/debug"
	"strconv"
	"strings"

	"github.com/FerretDB/sqlorm/internal/util/devbuild"
	"github.com/FerretDB/sqlorm/internal/util/must"
)

//go:embed *.txt
var gen embed.FS

// Info provides details about the current build.
type Info struct {
	Version          string
	Commit           string
	Dirty            bool
	DevBuild         bool
	BuildEnvironment map[string]string
}

// info singleton instance set by init().
var info *Info

// unknown is a placeholder for unknown version and commit values.
const unknown = "unknown"

// module path from go.mod.
const module = "github.com/FerretDB/sqlorm"

// semVerTag is a https://semver.org/#is-there-a-suggested-regular-expression-regex-to-check-a-semver-string,
// but with a leading `v`.
//
//nolint:lll // for readability
var semVerTag = regexp.MustCompile(`^v(?P<major>0|[1-9]\d*)\.(?P<minor>0|[1-9]\d*)\.(?P<patch>0|[1-9]\d*)(?:-(?P<prerelease>(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?(?:\+(?P<buildmetadata>[0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

// Get returns current build's info.
//
// It returns a shared instance without any synchronization.
func Get() *Info {
	return info
}

// initFromFiles initializes info from txt files.
func initFromFiles() {
	info = &Info{
		Version:  strings.TrimSpace(string(must.NotFail(gen.ReadFile("version.txt")))),
		Commit:   unknown,
		DevBuild: devbuild.Enabled,
		BuildEnvironment: map[string]string{
			"go.runtime": runtime.Version(),
		},
	}

	if info.Version == "" {
		info.Version = unknown
	}

	b, _ := gen.ReadFile("commit.txt")
	if s := strings.TrimSpace(string(b)); s != "" {
		info.Commit = s
	}
}

// readBuildInfo returns the commit from the build info of sqlorm binaries and tests.
// Builds of other modules that import sqlorm are ignored.
func readBuildInfo() (commit string) {
	buildInfo, ok := runtimedebug.ReadBuildInfo()
	if !ok {
		return
	}

	info.BuildEnvironment["go.version"] = buildInfo.GoVersion

	if buildInfo.Main.Path != module {
		return
	}

	for _, s := range buildInfo.Settings {
		if v := s.Value; v != "" {
			info.BuildEnvironment[s.Key] = v
		}

		switch s.Key {
		case "vcs.revision":
			commit = s.Value
		case "vcs.modified":
			info.Dirty, _ = strconv.ParseBool(s.Value)
		}
	}

	return
}

func init() {
	initFromFiles()

	if commit := readBuildInfo(); info.Commit == unknown && commit != "" {
		info.Commit = commit
	}

	if info.Version != unknown && !semVerTag.MatchString(info.Version) {
		panic(fmt.Sprintf("Invalid version.txt file content %q, expected `v<major>.<minor>.<patch>`", info.Version))
	}
}
