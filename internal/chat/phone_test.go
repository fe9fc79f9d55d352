package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPhone(t *testing.T) {
	cases := []struct {
		name        string
		raw         string
		countryCode string
		number      string
	}{
		{"indian number with code", "919876543210", "+91", "9876543210"},
		{"plus prefix stripped", "+919876543210", "+91", "9876543210"},
		{"formatted input", "+91 98765-43210", "+91", "9876543210"},
		{"us number", "14155552671", "+1", "4155552671"},
		{"three digit calling code", "8801712345678", "+880", "1712345678"},
		{"uk number", "447911123456", "+44", "7911123456"},
		{"bare national number defaults", "9876543210", "+91", "9876543210"},
		{"short number defaults", "12345", "+1", "2345"},
		{"unknown code splits last ten", "9989876543210", "+998", "9876543210"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			parts := ExtractPhone(tc.raw)
			assert.Equal(t, tc.countryCode, parts.CountryCode)
			assert.Equal(t, tc.number, parts.Number)
		})
	}
}

func TestFullNumber(t *testing.T) {
	parts := PhoneParts{CountryCode: "+91", Number: "9876543210"}
	assert.Equal(t, "+919876543210", parts.FullNumber())
}
