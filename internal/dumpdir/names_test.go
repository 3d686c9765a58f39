package dumpdir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCorrectFilename(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"time", true},
		{"os_release", true},
		{"core_backtrace.json", true},
		{"with space", true},
		{"", false},
		{".", false},
		{"..", false},
		{"a/b", false},
		{"/etc/passwd", false},
		{"x\x00y", false},
		{"x\ny", false},
		{"x\x7fy", false},
		{"\tname", false},
		{"...", true},
		{".lock", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, IsCorrectFilename(tt.name), "name %q", tt.name)
	}
}

func TestIsDigits(t *testing.T) {
	assert.True(t, isDigits("0"))
	assert.True(t, isDigits("1234567890"))
	assert.False(t, isDigits(""))
	assert.False(t, isDigits("-1"))
	assert.False(t, isDigits(" 1"))
	assert.False(t, isDigits("12x"))
}
