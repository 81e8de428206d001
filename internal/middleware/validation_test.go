package middleware

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValidateMessageContent(t *testing.T) {
	assert.NoError(t, ValidateMessageContent("hello"))
	assert.NoError(t, ValidateMessageContent(strings.Repeat("a", 100000)))

	assert.Error(t, ValidateMessageContent(""))
	assert.Error(t, ValidateMessageContent(strings.Repeat("a", 100001)))
	assert.Error(t, ValidateMessageContent(string([]byte{0xff, 0xfe})))
}

func TestValidateSessionID(t *testing.T) {
	assert.NoError(t, ValidateSessionID(uuid.NewString()))

	assert.Error(t, ValidateSessionID(""))
	assert.Error(t, ValidateSessionID("not-a-uuid"))
	assert.Error(t, ValidateSessionID("../other/path"))
}
