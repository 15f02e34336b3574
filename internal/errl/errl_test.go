package errl

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorf(t *testing.T) {
	err := Errorf("reading body: %w", io.ErrUnexpectedEOF)

	assert.EqualError(t, err, "reading body: unexpected EOF")
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Contains(t, fmt.Sprintf("%+v", err), "TestErrorf")
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "ignored"))

	base := errors.New("boom")
	err := Wrap(base, "patching device")
	assert.EqualError(t, err, "patching device: boom")
	assert.ErrorIs(t, err, base)
}
