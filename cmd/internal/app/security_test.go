package app

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSecurityConfig(t *testing.T) {
	valid := DefaultConfig()
	valid.Session.TokenSecret = strings.Repeat("k", 32)

	assert.NoError(t, ValidateSecurityConfig(valid))

	missing := valid
	missing.Session.TokenSecret = "   "
	assert.ErrorContains(t, ValidateSecurityConfig(missing), "missing")

	short := valid
	short.Session.TokenSecret = strings.Repeat("k", 31)
	assert.ErrorContains(t, ValidateSecurityConfig(short), "too short")

	badAlg := valid
	badAlg.Session.TokenAlgorithm = "none"
	assert.Error(t, ValidateSecurityConfig(badAlg))

	badHeader := valid
	badHeader.Session.TokenHeader = "Bad Header"
	assert.Error(t, ValidateSecurityConfig(badHeader))
}
