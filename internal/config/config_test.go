package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateHost(t *testing.T) {
	cases := []struct {
		name  string
		host  string
		valid bool
	}{
		{"ipv4 literal", "192.168.1.10", true},
		{"ipv6 literal", "::1", true},
		{"hostname", "my-host.example.com", true},
		{"empty", "", false},
		{"blank", "   ", false},
		{"invalid hostname chars", "not a host!", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateHost(tc.host)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateFilePath(t *testing.T) {
	cases := []struct {
		name  string
		path  string
		valid bool
	}{
		{"plain name", "report.pdf", true},
		{"nested but clean", "photos/vacation.png", true},
		{"empty", "", false},
		{"parent traversal", "../../etc/passwd", false},
		{"home expansion", "~/secrets.txt", false},
		{"shell metacharacter", "file;rm -rf /", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateFilePath(tc.path)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := ValidationError{Field: "host", Message: "host inválido"}
	assert.Equal(t, "validation error in field 'host': host inválido", err.Error())
}
