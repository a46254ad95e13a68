package scanner

import (
	"regexp"
	"strings"
)

var codePattern = regexp.MustCompile(`(?:QR|TKT)-[A-Z0-9]{8}`)

// TextDecoder decodes frames that carry the code as text, as keyboard-wedge
// and serial QR readers emit it.  The first QR- or TKT- code in the frame
// wins, so a scanned access URL that ends in a code also decodes.
type TextDecoder struct{}

func (TextDecoder) Decode(f Frame) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(string(f)))
	if code := codePattern.FindString(s); code != "" {
		return code, nil
	}
	return "", ErrNoCode
}
