package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// PipelineSuite provides a logger, a per-test context and a per-test scratch
// directory for end-to-end tests.
type PipelineSuite struct {
	suite.Suite
	ctx     context.Context
	cancel  context.CancelFunc
	tempDir string
	logger  *zap.Logger
}

// SetupTest runs before each test in the suite
func (s *PipelineSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 2*time.Minute)
	s.tempDir = s.T().TempDir()
	s.logger = zaptest.NewLogger(s.T())
}

// TearDownTest runs after each test in the suite
func (s *PipelineSuite) TearDownTest() {
	s.cancel()
}

// Context returns the test context
func (s *PipelineSuite) Context() context.Context {
	return s.ctx
}

// TempDir returns the test's scratch directory
func (s *PipelineSuite) TempDir() string {
	return s.tempDir
}

// Logger returns the test logger
func (s *PipelineSuite) Logger() *zap.Logger {
	return s.logger
}
