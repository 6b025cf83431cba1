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

package xconnect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Psiphon-Labs/xconnect/xconnect/common"
	"github.com/Psiphon-Labs/xconnect/xconnect/common/stacktrace"
	"github.com/sirupsen/logrus"
)

var noticeLoggerMutex sync.Mutex
var noticeLogger = newNoticeLogger(os.Stderr, &noticeJSONFormatter{}, logrus.InfoLevel)
var noticeLogDiagnostics = int32(0)

func newNoticeLogger(
	output io.Writer, formatter logrus.Formatter, level logrus.Level) *logrus.Logger {

	return &logrus.Logger{
		Out:       output,
		Formatter: formatter,
		Hooks:     make(logrus.LevelHooks),
		Level:     level,
	}
}

// SetEmitDiagnosticNotices toggles whether diagnostic notices are emitted.
// Diagnostic notices contain display host names and socket paths.
func SetEmitDiagnosticNotices(enable bool) {
	if enable {
		atomic.StoreInt32(&noticeLogDiagnostics, 1)
	} else {
		atomic.StoreInt32(&noticeLogDiagnostics, 0)
	}
}

// GetEmitDiagnosticNotices returns the current state of emitting diagnostic
// notices.
func GetEmitDiagnosticNotices() bool {
	return atomic.LoadInt32(&noticeLogDiagnostics) == 1
}

// SetNoticeWriter sets a target writer to receive notices. By default,
// notices are written to stderr.
//
// Notices are encoded in JSON. Here's an example:
//
// {"data":{"display":":0","screen":0,"roots":1},"noticeType":"Connected","timestamp":"2026-01-28T17:35:13Z"}
//
// All notices have the following fields:
// - "noticeType": the type of notice, which indicates the meaning of the
// notice along with what's in the data payload.
// - "data": additional structured data payload.
// - "timestamp": UTC timezone, RFC3339 format timestamp for notice event.
//
// See the Notice* functions for details on each notice meaning and payload.
func SetNoticeWriter(output io.Writer) {
	noticeLoggerMutex.Lock()
	defer noticeLoggerMutex.Unlock()
	noticeLogger.SetOutput(output)
}

// ResetNoticeWriter resets the notice writer to the default, stderr.
func ResetNoticeWriter() {
	SetNoticeWriter(os.Stderr)
}

// SetNoticeFormatting selects between JSON notices, the default, and human
// readable text notices.
func SetNoticeFormatting(humanReadable bool) {
	noticeLoggerMutex.Lock()
	defer noticeLoggerMutex.Unlock()
	if humanReadable {
		noticeLogger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			DisableSorting:   false,
			QuoteEmptyFields: true,
		})
	} else {
		noticeLogger.SetFormatter(&noticeJSONFormatter{})
	}
}

// SetNoticeLevel sets the minimum level, a logrus level name such as "debug"
// or "warning", of emitted notices. The default is "info".
func SetNoticeLevel(level string) error {
	parsedLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid notice level: %w", err)
	}
	noticeLoggerMutex.Lock()
	defer noticeLoggerMutex.Unlock()
	noticeLogger.SetLevel(parsedLevel)
	return nil
}

// noticeJSONFormatter is a customized version of logrus.JSONFormatter. The
// entry message is the notice type and the entry fields are the notice data.
type noticeJSONFormatter struct {
}

func (f *noticeJSONFormatter) Format(entry *logrus.Entry) ([]byte, error) {

	data := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		switch v := v.(type) {
		case error:
			// Otherwise errors are ignored by `encoding/json`
			data[k] = v.Error()
		default:
			data[k] = v
		}
	}

	obj := map[string]interface{}{
		"noticeType": entry.Message,
		"data":       data,
		"timestamp":  entry.Time.UTC().Format(time.RFC3339),
	}

	serialized, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notice: %v", err)
	}

	return append(serialized, '\n'), nil
}

const (
	noticeIsDiagnostic = 1
)

// outputNotice emits a notice at the specified level. args are name/value
// pairs for the notice data.
func outputNotice(
	level logrus.Level, noticeType string, noticeFlags uint32, args ...interface{}) {

	if (noticeFlags&noticeIsDiagnostic != 0) && !GetEmitDiagnosticNotices() {
		return
	}

	fields := make(logrus.Fields)
	for i := 0; i < len(args)-1; i += 2 {
		name, ok := args[i].(string)
		if ok {
			fields[name] = args[i+1]
		}
	}

	noticeLoggerMutex.Lock()
	defer noticeLoggerMutex.Unlock()
	noticeLogger.WithFields(fields).Log(level, noticeType)
}

// NoticeInfo is an informational message.
func NoticeInfo(format string, args ...interface{}) {
	outputNotice(
		logrus.InfoLevel, "Info", noticeIsDiagnostic,
		"message", fmt.Sprintf(format, args...))
}

// NoticeWarning is a warning message; typically a recoverable error
// condition.
func NoticeWarning(format string, args ...interface{}) {
	outputNotice(
		logrus.WarnLevel, "Warning", noticeIsDiagnostic,
		"message", fmt.Sprintf(format, args...))
}

// NoticeError is an error message; typically an unrecoverable error
// condition.
func NoticeError(format string, args ...interface{}) {
	outputNotice(
		logrus.ErrorLevel, "Error", 0,
		"message", fmt.Sprintf(format, args...))
}

// NoticeBuildInfo reports build version info.
func NoticeBuildInfo() {
	buildInfo := common.GetBuildInfo()
	outputNotice(
		logrus.InfoLevel, "BuildInfo", 0,
		"buildDate", buildInfo.BuildDate,
		"buildRepo", buildInfo.BuildRepo,
		"buildRev", buildInfo.BuildRev,
		"goVersion", buildInfo.GoVersion)
}

// NoticeConnecting indicates that connection establishment has started for
// the named display.
func NoticeConnecting(displayName string) {
	outputNotice(
		logrus.InfoLevel, "Connecting", noticeIsDiagnostic,
		"display", displayName)
}

// NoticeConnected indicates that a display connection is established and
// ready for use.
func NoticeConnected(displayName string, screen, rootsLen int) {
	outputNotice(
		logrus.InfoLevel, "Connected", 0,
		"display", displayName,
		"screen", screen,
		"roots", rootsLen)
}

// NoticeConnectFailed reports the terminal state and error kind of a failed
// connection establishment.
func NoticeConnectFailed(displayName string, state State, err error) {
	outputNotice(
		logrus.WarnLevel, "ConnectFailed", 0,
		"display", displayName,
		"state", state.String(),
		"kind", errorKindString(err),
		"error", err)
}

// NoticeCommonLogger returns a common.Logger which emits xconnect notices.
// Debug traces are diagnostic notices.
func NoticeCommonLogger() common.Logger {
	return &commonLogger{}
}

type commonLogger struct {
}

func (logger *commonLogger) WithTrace() common.LogTrace {
	return &commonLogTrace{
		trace: stacktrace.GetParentFunctionName(),
	}
}

func (logger *commonLogger) WithTraceFields(fields common.LogFields) common.LogTrace {
	return &commonLogTrace{
		trace:  stacktrace.GetParentFunctionName(),
		fields: fields,
	}
}

type commonLogTrace struct {
	trace  string
	fields common.LogFields
}

func (log *commonLogTrace) outputNotice(
	level logrus.Level, noticeType string, noticeFlags uint32, args ...interface{}) {

	noticeArgs := []interface{}{
		"trace", log.trace,
		"message", fmt.Sprint(args...),
	}
	for name, value := range log.fields {
		noticeArgs = append(noticeArgs, name, value)
	}
	outputNotice(level, noticeType, noticeFlags, noticeArgs...)
}

func (log *commonLogTrace) Debug(args ...interface{}) {
	log.outputNotice(logrus.DebugLevel, "Debug", noticeIsDiagnostic, args...)
}

func (log *commonLogTrace) Info(args ...interface{}) {
	log.outputNotice(logrus.InfoLevel, "Info", noticeIsDiagnostic, args...)
}

func (log *commonLogTrace) Warning(args ...interface{}) {
	log.outputNotice(logrus.WarnLevel, "Warning", noticeIsDiagnostic, args...)
}

func (log *commonLogTrace) Error(args ...interface{}) {
	log.outputNotice(logrus.ErrorLevel, "Error", 0, args...)
}

// NoticeReceiver consumes a notice input stream and invokes a callback
// function for each discrete JSON notice object byte sequence.
type NoticeReceiver struct {
	mutex    sync.Mutex
	buffer   []byte
	callback func([]byte)
}

// NewNoticeReceiver initializes a new NoticeReceiver.
func NewNoticeReceiver(callback func([]byte)) *NoticeReceiver {
	return &NoticeReceiver{callback: callback}
}

// Write implements io.Writer.
func (receiver *NoticeReceiver) Write(p []byte) (n int, err error) {
	receiver.mutex.Lock()
	defer receiver.mutex.Unlock()

	receiver.buffer = append(receiver.buffer, p...)

	for {
		index := bytes.IndexByte(receiver.buffer, '\n')
		if index == -1 {
			break
		}
		notice := receiver.buffer[:index]
		receiver.buffer = receiver.buffer[index+1:]
		receiver.callback(notice)
	}

	return len(p), nil
}
