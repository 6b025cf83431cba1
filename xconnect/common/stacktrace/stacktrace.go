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

/*
Package stacktrace provides helpers for handling stack trace information.
*/
package stacktrace

import (
	"fmt"
	"runtime"
	"strings"
)

// GetFunctionName extracts a simple function name from the full name
// returned by runtime.Func.Name(), e.g. "transport.Open", to declutter
// messages containing function names.
func GetFunctionName(pc uintptr) string {
	f := runtime.FuncForPC(pc)
	if f == nil {
		return "unknown"
	}
	funcName := f.Name()
	index := strings.LastIndex(funcName, "/")
	if index != -1 {
		funcName = funcName[index+1:]
	}
	return funcName
}

// GetParentFunctionName returns the caller's parent function name and source
// file line number.
func GetParentFunctionName() string {
	return GetAncestorFunctionName(1)
}

// GetAncestorFunctionName is GetParentFunctionName for the frame skip levels
// above the caller's parent.
func GetAncestorFunctionName(skip int) string {
	pc, _, line, _ := runtime.Caller(2 + skip)
	return fmt.Sprintf("%s#%d", GetFunctionName(pc), line)
}
