package certificate

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

const base64LineWidth = 64

// DecodeBase64 parses a base64 certificate. Whitespace, including line
// breaks, is ignored.
func DecodeBase64(s string) (*Certificate, error) {
	clean := strings.Join(strings.Fields(s), "")
	wire, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrDecode, err)
	}
	return Decode(wire)
}

// EncodeBase64 returns the wire form as base64 wrapped at 64 columns.
func (c *Certificate) EncodeBase64() string {
	enc := base64.StdEncoding.EncodeToString(c.Wire())
	var sb strings.Builder
	for len(enc) > base64LineWidth {
		sb.WriteString(enc[:base64LineWidth])
		sb.WriteByte('\n')
		enc = enc[base64LineWidth:]
	}
	sb.WriteString(enc)
	sb.WriteByte('\n')
	return sb.String()
}

// Load reads a base64 certificate file.
func Load(path string) (*Certificate, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}
	cert, err := DecodeBase64(string(b))
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate %s: %w", path, err)
	}
	return cert, nil
}

// Save writes c to path as base64.
func Save(path string, c *Certificate) error {
	if err := os.WriteFile(path, []byte(c.EncodeBase64()), 0o644); err != nil {
		return fmt.Errorf("failed to write certificate file: %w", err)
	}
	return nil
}
