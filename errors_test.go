package sct

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodes(t *testing.T) {
	assert.Equal(t, ErrorCode(7), CodeChannelNotActive)
	assert.Equal(t, ErrorCode(10), CodeSendBufSize)
	assert.Equal(t, ErrorCode(1006), CodeNoChannels)
	assert.Equal(t, ErrorCode(1012), CodeChannelDead)
	assert.Equal(t, ErrorCode(1017), CodeBoardBootFail)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeOK, CodeOf(nil))
	assert.Equal(t, CodeNoRecvBuffers, CodeOf(fmt.Errorf("port 3: %w", ErrNoRecvBuffers)))
	assert.Equal(t, CodeUnknown, CodeOf(fmt.Errorf("plain")))

	for _, e := range codeTable {
		assert.Equal(t, e.code, CodeOf(e.err), e.err.Error())
		assert.Equal(t, e.err, ErrorFromCode(e.code))
	}
}

func TestErrorFromUnknownCode(t *testing.T) {
	assert.NoError(t, ErrorFromCode(CodeOK))
	err := ErrorFromCode(4242)
	assert.EqualError(t, err, "sct: remote error code 4242")
	assert.Equal(t, "sct: channel in use", CodeChannelInUse.String())
}
