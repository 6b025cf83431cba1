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
	"fmt"

	"github.com/Psiphon-Labs/xconnect/xconnect"
	"github.com/Psiphon-Labs/xconnect/xconnect/common/errors"
	"golang.org/x/sync/errgroup"
)

const maxConcurrentProbes = 8

// probeResult is the outcome of probing one display.
type probeResult struct {
	displayName string
	connection  *xconnect.Connection
	rootsLen    int
}

func (result *probeResult) String() string {

	name := result.displayName
	if name == "" {
		name = "$DISPLAY"
	}

	if result.connection.HasError() {
		return fmt.Sprintf("%s: %s: %s (%s)",
			name,
			result.connection.State(),
			result.connection.ErrorKind(),
			result.connection.Err())
	}

	return fmt.Sprintf("%s: ok: %s screen %d of %d",
		name,
		result.connection.Address(),
		result.connection.Screen(),
		result.rootsLen)
}

// probeDisplays connects to each display concurrently, closing each
// successful connection immediately. The results are in displayNames order.
// The returned error reports the first display, in displayNames order, which
// failed.
func probeDisplays(
	ctx context.Context,
	config *xconnect.Config,
	displayNames []string) ([]*probeResult, error) {

	results := make([]*probeResult, len(displayNames))

	var group errgroup.Group
	group.SetLimit(maxConcurrentProbes)
	for i, displayName := range displayNames {
		i, displayName := i, displayName
		group.Go(func() error {
			connection := xconnect.ConnectWithAuthInfo(ctx, config, displayName, nil)
			result := &probeResult{
				displayName: displayName,
				connection:  connection,
			}
			if !connection.HasError() {
				result.rootsLen = connection.Session().RootsLen()
				connection.Close()
			}
			results[i] = result
			return nil
		})
	}
	_ = group.Wait()

	for _, result := range results {
		if result.connection.HasError() {
			return results, errors.Tracef(
				"display %q failed: %s", result.displayName, result.connection.ErrorKind())
		}
	}

	return results, nil
}
