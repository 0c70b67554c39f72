package certificate

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Info is the printable summary of a certificate.
type Info struct {
	Name       string          `yaml:"name"`
	NotBefore  string          `yaml:"not_before"`
	NotAfter   string          `yaml:"not_after"`
	Subject    []SubjectInfo   `yaml:"subject,omitempty"`
	PublicKey  PublicKeyInfo   `yaml:"public_key"`
	Extensions []ExtensionInfo `yaml:"extensions,omitempty"`
	Signature  SignatureInfo   `yaml:"signature"`
}

type SubjectInfo struct {
	OID   string `yaml:"oid"`
	Value string `yaml:"value"`
}

type PublicKeyInfo struct {
	Type string `yaml:"type"`
	DER  string `yaml:"der"`
}

type ExtensionInfo struct {
	OID      string `yaml:"oid"`
	Critical bool   `yaml:"critical"`
	Value    string `yaml:"value"`
}

type SignatureInfo struct {
	Type       string `yaml:"type"`
	KeyLocator string `yaml:"key_locator,omitempty"`
}

// Info summarizes the certificate for display.
func (c *Certificate) Info() Info {
	info := Info{
		Name:      c.Name().String(),
		NotBefore: c.NotBefore.UTC().Format(time.RFC3339),
		NotAfter:  c.NotAfter.UTC().Format(time.RFC3339),
		PublicKey: PublicKeyInfo{
			Type: c.Key.Type().String(),
			DER:  base64.StdEncoding.EncodeToString(c.Key.DER()),
		},
	}
	for _, s := range c.Subject {
		info.Subject = append(info.Subject, SubjectInfo{OID: s.OID, Value: s.Value})
	}
	for _, e := range c.Extensions {
		info.Extensions = append(info.Extensions, ExtensionInfo{OID: e.OID, Critical: e.Critical, Value: hex.EncodeToString(e.Value)})
	}
	if sig, ok := c.SignatureInfo(); ok {
		info.Signature.Type = sig.Type.String()
		if sig.KeyLocator != nil {
			info.Signature.KeyLocator = sig.KeyLocator.String()
		}
	}
	return info
}

// Print writes the certificate summary to w as YAML.
func (c *Certificate) Print(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Info()); err != nil {
		return fmt.Errorf("failed to print certificate: %w", err)
	}
	return enc.Close()
}
