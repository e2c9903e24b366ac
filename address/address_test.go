package address

import (
	"testing"

	"github.com/stretchr/testify/assert"

	clasperrors "github.com/lumencanvas/clasp/errors"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"simple", "/lights/1/brightness", false},
		{"single segment", "/master", false},
		{"case sensitive segments allowed", "/Lights/A", false},
		{"empty", "", true},
		{"no leading slash", "lights/1", true},
		{"bare slash", "/", true},
		{"trailing slash", "/lights/", true},
		{"empty segment", "/lights//brightness", true},
		{"wildcard in address", "/lights/*/brightness", true},
		{"globstar in address", "/lights/**", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, clasperrors.CodeInvalidAddress, clasperrors.CodeOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{"literal", "/lights/1/brightness", false},
		{"single wildcard", "/lights/*/brightness", false},
		{"globstar", "/lights/**", false},
		{"globstar mid pattern", "/a/**/z", false},
		{"two globstars", "/a/**/b/**", true},
		{"partial wildcard segment", "/zone5*/x", true},
		{"empty segment", "/a//b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePattern(tt.pattern)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		addr    string
		want    bool
	}{
		// literals
		{"/lights/1/brightness", "/lights/1/brightness", true},
		{"/lights/1/brightness", "/lights/2/brightness", false},
		{"/lights/1", "/lights/1/brightness", false},
		{"/Lights/1", "/lights/1", false}, // case-sensitive

		// single wildcard: exactly one segment
		{"/lights/*/brightness", "/lights/1/brightness", true},
		{"/lights/*/brightness", "/lights/1/2/brightness", false},
		{"/lights/*", "/lights", false},
		{"/*", "/lights", true},

		// globstar: zero or more segments
		{"/a/**", "/a", true},
		{"/a/**", "/a/b", true},
		{"/a/**", "/a/b/c", true},
		{"/a/**/z", "/a/z", true},
		{"/a/**/z", "/a/b/z", true},
		{"/a/**/z", "/a/b/c/z", true},
		{"/a/**/z", "/a/b/c", false},
		{"/**", "/anything/at/all", true},
		{"/**/end", "/end", true},
		{"/**/end", "/x/y/end", true},

		// mixed
		{"/lights/**", "/scene/active", false},
		{"/lights/*/color/*", "/lights/3/color/hue", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" vs "+tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.addr))
			// Purity: repeated evaluation is identical.
			assert.Equal(t, tt.want, Match(tt.pattern, tt.addr))
		})
	}
}
