package logger

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/fluid-notion-systems/ize/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

const (
	textTraceString = `^time="[0-9/:. ]{26}" severity=TRACE message="hello"`
	textErrorString = `^time="[0-9/:. ]{26}" severity=ERROR message="hello"`
	jsonInfoString  = `^{"timestamp":{"seconds":\d+,"nanos":\d+},"severity":"INFO","message":"hello"}`
)

type LoggerTestSuite struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}

func (s *LoggerTestSuite) redirect(format, level string) *bytes.Buffer {
	buf := &bytes.Buffer{}
	SetLogFormat(format)
	SetOutput(buf)
	SetLoggingLevel(level)
	return buf
}

func (s *LoggerTestSuite) TestTextTraceVisibleAtTraceLevel() {
	buf := s.redirect("text", config.TRACE)
	Tracef("hello")
	assert.Regexp(s.T(), regexp.MustCompile(textTraceString), buf.String())
}

func (s *LoggerTestSuite) TestTextTraceSuppressedAtInfoLevel() {
	buf := s.redirect("text", config.INFO)
	Tracef("hello")
	assert.Empty(s.T(), buf.String())
}

func (s *LoggerTestSuite) TestErrorSuppressedAtOffLevel() {
	buf := s.redirect("text", config.OFF)
	Errorf("hello")
	assert.Empty(s.T(), buf.String(), "OFF suppresses even errors")
}

func (s *LoggerTestSuite) TestTextErrorVisibleAtErrorLevel() {
	buf := s.redirect("text", config.ERROR)
	Errorf("hello")
	assert.Regexp(s.T(), regexp.MustCompile(textErrorString), buf.String())
}

func (s *LoggerTestSuite) TestJSONFormat() {
	buf := s.redirect("json", config.INFO)
	Infof("hello")
	assert.Regexp(s.T(), regexp.MustCompile(jsonInfoString), buf.String())
}

func (s *LoggerTestSuite) TearDownTest() {
	SetLogFormat("text")
	SetOutput(bytes.NewBuffer(nil))
	SetLoggingLevel(config.INFO)
}
