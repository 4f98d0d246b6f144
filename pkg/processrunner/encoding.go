package processrunner

import (
	"sort"
	"strings"

	"github.com/core-tools/hsu-zapret-go/pkg/errors"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Console code pages batch scripts commonly emit on localized Windows
var consoleEncodings = map[string]encoding.Encoding{
	"cp866":        charmap.CodePage866,
	"ibm866":       charmap.CodePage866,
	"cp437":        charmap.CodePage437,
	"cp850":        charmap.CodePage850,
	"cp1251":       charmap.Windows1251,
	"windows-1251": charmap.Windows1251,
	"cp1252":       charmap.Windows1252,
	"windows-1252": charmap.Windows1252,
}

// encodingFor returns nil for UTF-8 output
func encodingFor(name string) (encoding.Encoding, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "", "utf-8", "utf8":
		return nil, nil
	}

	enc, ok := consoleEncodings[key]
	if !ok {
		return nil, errors.NewValidationError("unsupported output encoding", nil).WithContext("encoding", name)
	}
	return enc, nil
}

// SupportedEncodings lists the accepted OutputEncoding names besides utf-8
func SupportedEncodings() []string {
	names := make([]string, 0, len(consoleEncodings))
	for name := range consoleEncodings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateEncoding reports whether name is accepted as OutputEncoding
func ValidateEncoding(name string) error {
	_, err := encodingFor(name)
	return err
}
