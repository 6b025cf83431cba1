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

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Psiphon-Inc/rotate-safe-writer"
	"github.com/Psiphon-Labs/xconnect/xconnect"
	"github.com/Psiphon-Labs/xconnect/xconnect/common"
	"golang.org/x/term"
)

func main() {

	// Define command-line parameters

	var configFilename string
	flag.StringVar(&configFilename, "config", "", "configuration input file")

	var noticeFilename string
	flag.StringVar(&noticeFilename, "notices", "", "notices output file (defaults to stderr)")

	var formatNotices bool
	flag.BoolVar(&formatNotices, "formatNotices", false, "emit notices in human-readable format (default when stderr is a terminal)")

	var noticeLevel string
	flag.StringVar(&noticeLevel, "noticeLevel", "", "minimum notice level (overrides config)")

	var versionDetails bool
	flag.BoolVar(&versionDetails, "version", false, "print build information and exit")
	flag.BoolVar(&versionDetails, "v", false, "print build information and exit")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"Usage: %s [flags] [display ...]\n\nProbes each display, or $DISPLAY when none is given.\n\n",
			os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()

	if versionDetails {
		b := common.GetBuildInfo()
		fmt.Printf(
			"xconnect Console Client\n  Build Date: %s\n  Built With: %s\n  Repository: %s\n  Revision: %s\n",
			b.BuildDate, b.GoVersion, b.BuildRepo, b.BuildRev)
		os.Exit(0)
	}

	// Initialize notice output

	var noticeWriter io.Writer
	noticeWriter = os.Stderr

	if noticeFilename == "" && term.IsTerminal(int(os.Stderr.Fd())) {
		formatNotices = true
	}

	if noticeFilename != "" {
		// The notice file may be rotated by logrotate while displays are
		// being probed.
		noticeFile, err := rotate.NewRotatableFileWriter(noticeFilename, 1, true, 0600)
		if err != nil {
			fmt.Printf("error opening notice file: %s\n", err)
			os.Exit(1)
		}
		defer noticeFile.Close()
		noticeWriter = noticeFile
	}

	xconnect.SetNoticeWriter(noticeWriter)
	xconnect.SetNoticeFormatting(formatNotices)

	// Handle optional config file parameter

	// EmitDiagnosticNotices is set from the config; force to true
	// and emit diagnostics when config-related errors occur.

	config := xconnect.DefaultConfig()

	if configFilename != "" {
		configFileContents, err := os.ReadFile(configFilename)
		if err != nil {
			xconnect.SetEmitDiagnosticNotices(true)
			xconnect.NoticeError("error loading configuration file: %s", err)
			os.Exit(1)
		}
		config, err = xconnect.LoadConfig(configFileContents)
		if err != nil {
			xconnect.SetEmitDiagnosticNotices(true)
			xconnect.NoticeError("error processing configuration file: %s", err)
			os.Exit(1)
		}
	}

	if noticeLevel != "" {
		config.NoticeLevel = noticeLevel
	}
	err := xconnect.SetNoticeLevel(config.NoticeLevel)
	if err != nil {
		xconnect.SetEmitDiagnosticNotices(true)
		xconnect.NoticeError("error setting notice level: %s", err)
		os.Exit(1)
	}
	xconnect.SetEmitDiagnosticNotices(config.EmitDiagnosticNotices)

	xconnect.NoticeBuildInfo()

	// Probe displays until done or interrupted

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	displayNames := flag.Args()
	if len(displayNames) == 0 {
		displayNames = []string{""}
	}

	results, err := probeDisplays(ctx, config, displayNames)
	for _, result := range results {
		fmt.Println(result)
	}
	if err != nil {
		xconnect.NoticeError("%s", err)
		stop()
		os.Exit(1)
	}
}
