package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	func() {
		defer RecoverPanic(logger, "allowlist audit")
		panic("boom")
	}()

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "PANIC recovered", entry.Message)
	assert.Equal(t, "boom", entry.Fields["panic"])
	assert.Equal(t, "allowlist audit", entry.Fields["context"])
	assert.True(t, strings.Contains(entry.Fields["stack"].(string), "goroutine"))
}

func TestRecoverPanicWithCallback(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})

	called := false
	func() {
		defer RecoverPanicWithCallback(logger, "watcher", func() { called = true })
		panic("boom")
	}()
	assert.True(t, called)

	called = false
	func() {
		defer RecoverPanicWithCallback(logger, "watcher", func() { called = true })
	}()
	assert.False(t, called, "callback must not run without a panic")
}
