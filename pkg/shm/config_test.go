package shm

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func (s *ConfigTestSuite) TestDefaultConfig() {
	config := DefaultConfig()
	s.Equal(uint32(defaultRingCapacity), config.Capacity)
	s.Equal(uint32(defaultRingBufferSize), config.BufferSize)
	s.Positive(config.AttachTimeout)

	// Name is left for the caller.
	s.ErrorIs(VerifyConfig(config), ErrInvalidName)
	config.Name = "orders"
	s.NoError(VerifyConfig(config))
}

func (s *ConfigTestSuite) TestVerifyConfig() {
	s.ErrorIs(VerifyConfig(nil), ErrInvalidConfig)

	config := DefaultConfig()
	config.Name = "orders"

	config.Capacity = 0
	s.ErrorIs(VerifyConfig(config), ErrInvalidConfig)
	config.Capacity = 1

	config.BufferSize = 0
	s.ErrorIs(VerifyConfig(config), ErrInvalidConfig)
	config.BufferSize = 1

	config.AttachTimeout = -1
	s.ErrorIs(VerifyConfig(config), ErrInvalidConfig)
	config.AttachTimeout = 0
	s.NoError(VerifyConfig(config))

	if math.MaxInt == math.MaxInt32 {
		config.Capacity, config.BufferSize = math.MaxUint32, math.MaxUint32
		s.ErrorIs(VerifyConfig(config), ErrInvalidConfig)
	}
}

func (s *ConfigTestSuite) TestVerifyConfigName() {
	config := DefaultConfig()
	for _, name := range []string{"", "a/b", `a\b`, "nul\x00", strings.Repeat("x", 300)} {
		config.Name = name
		s.ErrorIs(VerifyConfig(config), ErrInvalidName, "name %q", name)
	}
}

func (s *ConfigTestSuite) TestCreateRingByWrongConfig() {
	config := DefaultConfig()
	config.Name = testName(s.T())
	config.Capacity = 0
	r, err := NewRing(s.T().Context(), config)
	s.ErrorIs(err, ErrInvalidConfig)
	s.Nil(r)
	s.Zero(OpenHandleCount(config.Name))
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}
