package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1555", "1555@c.us"},
		{"1555@c.us", "1555@c.us"},
		{"120363042@g.us", "120363042@g.us"},
		{"", "@c.us"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAddress(tt.in))
		})
	}
}

func TestNormalizeAddressIsIdempotent(t *testing.T) {
	inputs := []string{"", "1", "1555", "+44 20 7946", "1555@c.us", "grp@g.us", "x@c.us@c.us", "@", "a@b"}
	for _, in := range inputs {
		once := NormalizeAddress(in)
		assert.Equal(t, once, NormalizeAddress(once), "input %q", in)
	}
}
