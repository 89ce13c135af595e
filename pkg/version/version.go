/*
 * Copyright 2019 THL A29 Limited, a Tencent company.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package version

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/pflag"
)

var (
	// GitVersion is semantic version, set with -ldflags at build time
	GitVersion = "v0.0.0-master+$Format:%h$"
	// GitCommit sha1 from git, output of $(git rev-parse HEAD)
	GitCommit = "$Format:%H$"
	// BuildDate in ISO8601 format, output of $(date -u +'%Y-%m-%dT%H:%M:%SZ')
	BuildDate = "1970-01-01T00:00:00Z"

	versionFlag bool
)

// AddFlags registers --version on fs
func AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&versionFlag, "version", false, "Print version information and quit")
}

// PrintAndExitIfRequested prints the version and exits if --version was passed
func PrintAndExitIfRequested() {
	if versionFlag {
		Fprint(os.Stdout)
		os.Exit(0)
	}
}

// Fprint writes the version information to w
func Fprint(w io.Writer) {
	fmt.Fprintln(w, Get().String())
}

type Info struct {
	GitVersion string `json:"gitVersion"`
	GitCommit  string `json:"gitCommit"`
	BuildDate  string `json:"buildDate"`
	GoVersion  string `json:"goVersion"`
	Platform   string `json:"platform"`
}

func (i Info) String() string {
	b, err := json.MarshalIndent(i, "", " ")
	if err != nil {
		return err.Error()
	}
	return string(b)
}

func Get() Info {
	return Info{
		GitVersion: GitVersion,
		GitCommit:  GitCommit,
		BuildDate:  BuildDate,
		GoVersion:  runtime.Version(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
