package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Mouse", "mouse"},
		{"  mouse ", "mouse"},
		{"Two-Photon Imaging", "two-photon imaging"},
		{"Straße", "strasse"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Fold(tt.in), tt.in)
	}
}
