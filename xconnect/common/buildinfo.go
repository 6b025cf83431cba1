/*
 * Copyright (c) 2026, Psiphon Inc.
 * All rights reserved.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"runtime"
	"strings"
)

/*
These values should be filled in at build time using the `-X` option to the
Go linker, e.g.:

  -ldflags "-X github.com/Psiphon-Labs/xconnect/xconnect/common.buildRev=`git rev-parse --short HEAD`"

Without those build flags, the build info simply contains empty strings.
Values must contain no whitespace.
*/

// -X github.com/Psiphon-Labs/xconnect/xconnect/common.buildDate=`date --iso-8601=seconds`
var buildDate string

// -X github.com/Psiphon-Labs/xconnect/xconnect/common.buildRepo=`git config --get remote.origin.url`
var buildRepo string

// -X github.com/Psiphon-Labs/xconnect/xconnect/common.buildRev=`git rev-parse --short HEAD`
var buildRev string

// BuildInfo captures build information for use in clients.
type BuildInfo struct {
	BuildDate string `json:"buildDate"`
	BuildRepo string `json:"buildRepo"`
	BuildRev  string `json:"buildRev"`
	GoVersion string `json:"goVersion"`
}

// GetBuildInfo returns the BuildInfo for the running binary.
func GetBuildInfo() *BuildInfo {
	return &BuildInfo{
		BuildDate: strings.TrimSpace(buildDate),
		BuildRepo: strings.TrimSpace(buildRepo),
		BuildRev:  strings.TrimSpace(buildRev),
		GoVersion: runtime.Version(),
	}
}
