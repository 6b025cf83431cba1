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

package main

// #include <stdlib.h>
import "C"

import (
	"context"
	"encoding/json"
	std_errors "errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/Psiphon-Labs/xconnect/ClientLibrary/clientlib"
)

type probeResultCode int

const (
	probeResultCodeSuccess probeResultCode = iota
	probeResultCodeTimeout
	probeResultCodeOtherError
)

type probeResult struct {
	Code         probeResultCode `json:"result_code"`
	ConnectTime  float64         `json:"connect_time,omitempty"`
	ErrorString  string          `json:"error,omitempty"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	State        string          `json:"state,omitempty"`
	Display      string          `json:"display,omitempty"`
	Screen       int             `json:"screen"`
	RootsLen     int             `json:"roots_len,omitempty"`
	NoticeEvents []string        `json:"notices,omitempty"`
}

var probeMutex sync.Mutex

// Memory managed by xconnect_probe which is allocated in each call and freed
// in the next call or in xconnect_free.
var managedProbeResult *C.char

// ******************************* WARNING ********************************
// The underlying memory referenced by the return value of xconnect_probe is
// managed by this library and attempting to free it explicitly will cause
// the program to crash. This memory is freed by the next call to
// xconnect_probe, or by xconnect_free.
// ************************************************************************
//
// xconnect_probe connects to a display, checks the screen, and closes the
// connection. The result is JSON.
//
// cConfigJSON is a JSON xconnect config, or NULL for the default config.
// cDisplayName is the display address, or NULL or empty for the config
// value or $DISPLAY.
// timeoutMilliseconds bounds the probe; zero or negative means no timeout.
//
// On success:
//
//	{
//	  "result_code": 0,
//	  "connect_time": <time_to_connect_in_seconds>,
//	  "display": <canonical display address>,
//	  "screen": <screen number>,
//	  "roots_len": <number of screens>
//	}
//
// On timeout:
//
//	{
//	  "result_code": 1,
//	  "error": <error message>
//	}
//
// On other error:
//
//	{
//	  "result_code": 2,
//	  "error": <error message>,
//	  "error_kind": <error kind>,
//	  "state": <connection state>
//	}
//
//export xconnect_probe
func xconnect_probe(cConfigJSON, cDisplayName *C.char, timeoutMilliseconds C.int) *C.char {

	probeMutex.Lock()
	defer probeMutex.Unlock()

	freeManagedProbeResult()

	var configJSON []byte
	if cConfigJSON != nil {
		configJSON = []byte(C.GoString(cConfigJSON))
	}

	var params clientlib.Parameters
	if cDisplayName != nil {
		displayName := C.GoString(cDisplayName)
		if displayName != "" {
			params.DisplayName = &displayName
		}
	}
	if timeoutMilliseconds > 0 {
		timeout := int(timeoutMilliseconds)
		params.ConnectTimeoutMilliseconds = &timeout
	}

	var noticeTypes []string
	noticeReceiver := func(event clientlib.NoticeEvent) {
		noticeTypes = append(noticeTypes, event.Type)
	}

	startTime := time.Now()

	display, err := clientlib.OpenDisplay(
		context.Background(), configJSON, params, noticeReceiver)

	var result probeResult
	result.NoticeEvents = noticeTypes

	if err != nil {
		result.ErrorString = err.Error()
		var connectErr *clientlib.ConnectError
		switch {
		case std_errors.Is(err, clientlib.ErrTimeout):
			result.Code = probeResultCodeTimeout
		case std_errors.As(err, &connectErr):
			result.Code = probeResultCodeOtherError
			result.ErrorKind = connectErr.Kind.String()
			result.State = connectErr.State.String()
		default:
			result.Code = probeResultCodeOtherError
		}
		managedProbeResult = marshalProbeResult(result)
		return managedProbeResult
	}

	result.Code = probeResultCodeSuccess
	result.ConnectTime = time.Since(startTime).Seconds()
	result.Display = display.Address
	result.Screen = display.Screen
	result.RootsLen = display.RootsLen

	err = display.Close()
	if err != nil {
		managedProbeResult = probeErrorJson(err)
		return managedProbeResult
	}

	managedProbeResult = marshalProbeResult(result)
	return managedProbeResult
}

// xconnect_free frees the memory returned by the last xconnect_probe call.
//
//export xconnect_free
func xconnect_free() {
	probeMutex.Lock()
	defer probeMutex.Unlock()

	freeManagedProbeResult()
}

// marshalProbeResult serializes a probeResult object as a JSON string in the
// form of a null-terminated buffer of C chars.
func marshalProbeResult(result probeResult) *C.char {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return C.CString(fmt.Sprintf("{\"result_code\":%d, \"error\": \"%s\"}", probeResultCodeOtherError, err.Error()))
	}

	return C.CString(string(resultJSON))
}

// probeErrorJson returns a probeResult object, with result code
// probeResultCodeOtherError (2) and the provided error string, serialized as
// a JSON string in the form of a null-terminated buffer of C chars.
func probeErrorJson(err error) *C.char {
	var result probeResult
	result.Code = probeResultCodeOtherError
	result.ErrorString = err.Error()

	return marshalProbeResult(result)
}

// freeManagedProbeResult frees the memory on the heap pointed to by
// managedProbeResult.
func freeManagedProbeResult() {
	if managedProbeResult != nil {
		managedMemory := unsafe.Pointer(managedProbeResult)
		if managedMemory != nil {
			C.free(managedMemory)
		}
		managedProbeResult = nil
	}
}

// main is a stub required by cgo.
func main() {}
