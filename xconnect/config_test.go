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
	"encoding/json"
	std_errors "errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) Test_LoadConfig_Defaults() {
	config, err := LoadConfig([]byte(`{}`))
	suite.Require().NoError(err)

	suite.Require().NotNil(config.CheckScreen)
	suite.True(*config.CheckScreen)
	suite.Equal(DEFAULT_NOTICE_LEVEL, config.NoticeLevel)
	suite.Require().NotNil(config.DNSRequestTimeoutMilliseconds)
	suite.Equal(DEFAULT_DNS_REQUEST_TIMEOUT_MILLISECONDS, *config.DNSRequestTimeoutMilliseconds)
	suite.Empty(config.DisplayName)
	suite.False(config.DisableTCP)
	suite.Nil(config.AuthLookup)
	suite.Nil(config.Handshaker)
}

func (suite *ConfigTestSuite) Test_LoadConfig_Values() {
	config, err := LoadConfig([]byte(`
	{
		"DisplayName": "remote:1.0",
		"CheckScreen": false,
		"LocalSocketPrefix": "/run/X11/X",
		"DisableTCP": true,
		"DisableAbstractSockets": true,
		"DNSServer": "192.0.2.53",
		"DNSRequestTimeoutMilliseconds": 250,
		"EmitDiagnosticNotices": true,
		"NoticeLevel": "debug"
	}`))
	suite.Require().NoError(err)

	suite.Equal("remote:1.0", config.DisplayName)
	suite.False(*config.CheckScreen)
	suite.False(config.checkScreen())
	suite.Equal("/run/X11/X", config.LocalSocketPrefix)
	suite.True(config.DisableTCP)
	suite.True(config.DisableAbstractSockets)
	suite.Equal("192.0.2.53", config.DNSServer)
	suite.Equal(250, *config.DNSRequestTimeoutMilliseconds)
	suite.True(config.EmitDiagnosticNotices)
	suite.Equal("debug", config.NoticeLevel)

	dialConfig, err := config.makeDialConfig()
	suite.Require().NoError(err)
	suite.NotNil(dialConfig.Resolver)
	suite.Equal("/run/X11/X", dialConfig.LocalSocketPrefix)
	suite.Equal(config.Capabilities(), dialConfig.Capabilities)
}

func (suite *ConfigTestSuite) Test_LoadConfig_BadJson() {
	_, err := LoadConfig([]byte("**ohhi**"))
	suite.Error(err)
	var syntaxErr *json.SyntaxError
	suite.True(std_errors.As(err, &syntaxErr))

	_, err = LoadConfig([]byte(`{"DisplayName": 11}`))
	suite.Error(err)
	var typeErr *json.UnmarshalTypeError
	suite.True(std_errors.As(err, &typeErr))
}

func (suite *ConfigTestSuite) Test_LoadConfig_Invalid() {
	for _, configJson := range []string{
		`{"NoticeLevel": "loud"}`,
		`{"DNSRequestTimeoutMilliseconds": 0}`,
		`{"DNSRequestTimeoutMilliseconds": -1}`,
		`{"DNSRequestTimeoutMilliseconds": 3600000}`,
		`{"DNSServer": "dns.example"}`,
	} {
		_, err := LoadConfig([]byte(configJson))
		suite.Error(err, configJson)
	}
}

func (suite *ConfigTestSuite) Test_DefaultConfig() {
	config := DefaultConfig()
	suite.True(config.checkScreen())

	dialConfig, err := config.makeDialConfig()
	suite.Require().NoError(err)
	suite.Nil(dialConfig.Resolver)
	suite.NotNil(dialConfig.Logger)

	// A runtime-built Config omits pointer defaults.
	suite.True((&Config{}).checkScreen())
}
