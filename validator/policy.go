package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joncooperworks/ndnsec/certificate"
	"github.com/joncooperworks/ndnsec/namematch"
	"github.com/joncooperworks/ndnsec/ndn"
)

// PacketKind selects which packets a rule applies to.
type PacketKind int

const (
	KindData PacketKind = iota
	KindInterest
)

func (k PacketKind) String() string {
	if k == KindInterest {
		return "interest"
	}
	return "data"
}

// ParsePacketKind parses "data" or "interest".
func ParsePacketKind(s string) (PacketKind, error) {
	switch strings.ToLower(s) {
	case "data", "":
		return KindData, nil
	case "interest":
		return KindInterest, nil
	default:
		return 0, fmt.Errorf("unknown packet kind: %s", s)
	}
}

// KindOf classifies a packet. Anything that is not an Interest is treated
// as Data, certificates included.
func KindOf(p ndn.Packet) PacketKind {
	if _, ok := p.(*ndn.Interest); ok {
		return KindInterest
	}
	return KindData
}

// Rule authorizes signers for packets whose names match Matcher.
type Rule struct {
	ID      string
	For     PacketKind
	Matcher namematch.Matcher
	// Hierarchical requires the signer's identity to be a prefix of the
	// packet name.
	Hierarchical bool
	// Anchors are trusted only for packets this rule selects.
	Anchors []*certificate.Certificate
}

func (r *Rule) validate() error {
	if r.Matcher == nil {
		return errors.New("rule matcher cannot be nil")
	}
	for _, a := range r.Anchors {
		if a == nil || a.Key.IsZero() {
			return fmt.Errorf("rule %q has an anchor without a key", r.ID)
		}
	}
	return nil
}

func (r *Rule) match(p ndn.Packet) bool {
	return r.For == KindOf(p) && r.Matcher.Match(p.Name())
}

// checkHierarchy enforces the hierarchical relation between the signer and
// the packet name.
func (r *Rule) checkHierarchy(p ndn.Packet, locator ndn.Name) error {
	if !r.Hierarchical {
		return nil
	}
	signer := certificate.KeyNameFromLocator(locator).Prefix(-1)
	if !signer.IsPrefixOf(p.Name()) {
		return fmt.Errorf("%w: signer %s may not sign %s under rule %q",
			ErrUnauthorized, signer, p.Name(), r.ID)
	}
	return nil
}

func findAnchor(anchors []*certificate.Certificate, locator ndn.Name) *certificate.Certificate {
	for _, a := range anchors {
		if a.MatchesLocator(locator) {
			return a
		}
	}
	return nil
}
