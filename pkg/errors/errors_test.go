package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfThroughWrapping(t *testing.T) {
	base := New(CodeNotFound, "project not found")
	wrapped := fmt.Errorf("load: %w", base)

	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, CodeNotFound))
	assert.Equal(t, "project not found", MessageOf(wrapped))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("plain")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(cause, CodeInternal, "write site failed").WithMeta("site_id", "pbn-1")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "internal: write site failed: disk full", err.Error())
	assert.Equal(t, "pbn-1", err.Meta["site_id"])
}
