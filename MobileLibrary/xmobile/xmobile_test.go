//go:build unix

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

package xmobile

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testProvider struct {
	mutex       sync.Mutex
	notices     []string
	authLookups []int
}

func (p *testProvider) Notice(noticeJSON string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.notices = append(p.notices, noticeJSON)
}

func (p *testProvider) GetAuthName(displayNumber int) string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.authLookups = append(p.authLookups, displayNumber)
	return "MIT-MAGIC-COOKIE-1"
}

func (p *testProvider) GetAuthData(_ int) []byte {
	return make([]byte, 16)
}

// startDisplayServer answers setup requests on a local socket for display 0,
// recording the authorization protocol names received.
func startDisplayServer(t *testing.T, authNames chan<- string) string {

	prefix := filepath.Join(t.TempDir(), "X")
	listener, err := net.Listen("unix", prefix+"0")
	require.NoError(t, err)

	var waitGroup sync.WaitGroup
	waitGroup.Add(1)
	go func() {
		defer waitGroup.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			waitGroup.Add(1)
			go func() {
				defer waitGroup.Done()
				defer conn.Close()
				header := make([]byte, 12)
				if _, err := io.ReadFull(conn, header); err != nil {
					return
				}
				nameLen := int(binary.LittleEndian.Uint16(header[6:]))
				dataLen := int(binary.LittleEndian.Uint16(header[8:]))
				padded := func(n int) int { return (n + 3) &^ 3 }
				auth := make([]byte, padded(nameLen)+padded(dataLen))
				if _, err := io.ReadFull(conn, auth); err != nil {
					return
				}
				authNames <- string(auth[:nameLen])

				body := make([]byte, 32)
				body[20] = 3
				reply := make([]byte, 8)
				reply[0] = 1
				binary.LittleEndian.PutUint16(reply[2:], 11)
				binary.LittleEndian.PutUint16(reply[6:], uint16(len(body)/4))
				if _, err := conn.Write(append(reply, body...)); err != nil {
					return
				}
				io.Copy(io.Discard, conn)
			}()
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		waitGroup.Wait()
	})

	return prefix
}

func TestOpenClose(t *testing.T) {

	authNames := make(chan string, 4)
	prefix := startDisplayServer(t, authNames)

	configJson, err := json.Marshal(map[string]interface{}{
		"LocalSocketPrefix": prefix,
		"DisableTCP":        true,
	})
	require.NoError(t, err)

	provider := &testProvider{}

	require.NoError(t, Open(string(configJson), ":0.2", 5000, provider))
	defer Close()

	assert.True(t, IsOpen())
	assert.Equal(t, ":0.2", GetAddress())
	assert.Equal(t, 2, GetScreen())
	assert.Equal(t, 3, GetRootsLen())
	assert.Equal(t, "MIT-MAGIC-COOKIE-1", <-authNames)

	err = Open(string(configJson), ":0", 0, provider)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already open")

	Close()
	assert.False(t, IsOpen())
	assert.Equal(t, "", GetAddress())
	assert.Equal(t, -1, GetScreen())
	assert.Equal(t, 0, GetRootsLen())

	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	assert.Equal(t, []int{0}, provider.authLookups)
	found := false
	for _, notice := range provider.notices {
		if strings.Contains(notice, `"noticeType":"Connected"`) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestOpenFailure(t *testing.T) {

	provider := &testProvider{}

	err := Open(`{"DisableTCP": true}`, "nocolon", 0, provider)
	require.Error(t, err)
	assert.False(t, IsOpen())

	err = Open("{", ":0", 0, provider)
	require.Error(t, err)
	assert.False(t, IsOpen())
}
