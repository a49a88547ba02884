/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
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

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type LoggerTestSuite struct {
	suite.Suite
	saved int
}

func (s *LoggerTestSuite) SetupTest() {
	s.saved = LogLevel()
}

func (s *LoggerTestSuite) TearDownTest() {
	SetLogLevel(s.saved)
}

func (s *LoggerTestSuite) TestLevelFilter() {
	var out bytes.Buffer
	l := New("ring", &out)

	SetLogLevel(LevelWarn)
	l.Infof("hidden %d", 1)
	l.Debugf("hidden")
	s.Require().Empty(out.String())

	l.Warnf("visible %s", "warn")
	l.Errorf("visible %s", "error")
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	s.Require().Len(lines, 2)
	s.Contains(lines[0], "Warn")
	s.Contains(lines[0], "visible warn")
	s.Contains(lines[1], "Error")
}

func (s *LoggerTestSuite) TestPrefixCarriesNameAndLocation() {
	var out bytes.Buffer
	l := New("region", &out)

	SetLogLevel(LevelTrace)
	l.Tracef("trace message")
	s.Contains(out.String(), "region")
	s.Contains(out.String(), "logger_test.go:")
	s.Contains(out.String(), "trace message")
}

func (s *LoggerTestSuite) TestPrintfLogsAsWarn() {
	var out bytes.Buffer
	l := New("pool", &out)

	SetLogLevel(LevelWarn)
	l.Printf("worker %d exited", 3)
	s.Contains(out.String(), "Warn")
	s.Contains(out.String(), "worker 3 exited")

	out.Reset()
	SetLogLevel(LevelError)
	l.Printf("hidden")
	s.Empty(out.String())
}

func (s *LoggerTestSuite) TestNoPrint() {
	var out bytes.Buffer
	l := New("quiet", &out)

	SetLogLevel(LevelNoPrint)
	l.Errorf("dropped")
	s.Empty(out.String())
}

func (s *LoggerTestSuite) TestSetLogLevelRejectsOutOfRange() {
	SetLogLevel(LevelInfo)
	SetLogLevel(LevelNoPrint + 1)
	s.Equal(LevelInfo, LogLevel())
	SetLogLevel(-1)
	s.Equal(LevelInfo, LogLevel())
}

func TestLoggerTestSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}
