package chat

import "strings"

// PhoneParts is a normalized sender address.
type PhoneParts struct {
	CountryCode string // with leading +
	Number      string // national number
}

// FullNumber returns the E.164-style concatenation used as the chat's
// display number and the broadcast correlation key.
func (p PhoneParts) FullNumber() string {
	return p.CountryCode + p.Number
}

// Calling codes the platform's customer base actually sees. Prefix matching
// is longest-first so 880 wins over 88x falling through to the default.
var callingCodes = map[string]bool{
	"1": true, "27": true, "33": true, "34": true, "39": true,
	"44": true, "49": true, "52": true, "55": true, "61": true,
	"81": true, "86": true, "91": true, "92": true, "94": true,
	"234": true, "254": true, "880": true, "966": true, "971": true,
	"977": true,
}

const defaultCountryCode = "+91"

// ExtractPhone splits a raw sender address into calling code and national
// number: longest-prefix match over the known calling codes, then "last 10
// digits are the number", then the default region for short remainders.
func ExtractPhone(raw string) PhoneParts {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	for width := 3; width >= 1; width-- {
		if len(cleaned) <= width {
			continue
		}
		prefix := cleaned[:width]
		if callingCodes[prefix] {
			return PhoneParts{CountryCode: "+" + prefix, Number: cleaned[width:]}
		}
	}

	if len(cleaned) > 10 {
		split := len(cleaned) - 10
		return PhoneParts{CountryCode: "+" + cleaned[:split], Number: cleaned[split:]}
	}

	return PhoneParts{CountryCode: defaultCountryCode, Number: cleaned}
}
