package hostname

import (
	"strings"

	"golang.org/x/net/idna"
)

// Normalize reduces user input such as "HTTPS://WWW.Example.com/path" to "example.com".
// Normalize(Normalize(x)) == Normalize(x) for every x.
func Normalize(input string) string {
	s := normalizeOnce(input)
	// Stripping and IDNA mapping can each expose another prefix, so run to a fixed point.
	// Every later pass works on ASCII or only shortens the string.
	for {
		next := normalizeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func normalizeOnce(input string) string {
	s := strings.ToLower(strings.TrimSpace(input))
	for _, scheme := range []string{"https://", "http://"} {
		if rest, ok := strings.CutPrefix(s, scheme); ok {
			s = rest
			break
		}
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		s = s[i+1:]
	}
	s = stripPrefixes(Clean(s))
	if ascii, err := idna.Lookup.ToASCII(s); err == nil && ascii != "" {
		s = stripPrefixes(ascii)
	}
	return s
}

// stripPrefixes removes surrounding dots and every leading "www." label.
func stripPrefixes(s string) string {
	for {
		next := strings.TrimPrefix(strings.Trim(s, "./ "), "www.")
		if next == s {
			return s
		}
		s = next
	}
}
