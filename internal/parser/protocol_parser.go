package parser

import (
	"strings"

	"github.com/firemen2709/sds200-scanner-dashboard/pkg/protocol"
)

// Parser maps raw scanner replies onto typed fields. It is stateless.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse maps one reply line onto typed fields. Malformed input degrades to "no value", never an error.
func (p *Parser) Parse(raw string, cmd protocol.Mnemonic) protocol.ParsedField {
	result := protocol.ParsedField{Command: cmd}

	if raw == "" {
		result.Degraded = true
		if cmd == protocol.MnemonicStatus {
			result.Status = &protocol.StatusFields{}
		}
		return result
	}

	parts := strings.Split(raw, protocol.FieldSeparator)

	switch cmd {
	case protocol.MnemonicModel, protocol.MnemonicVersion:
		result.Value = field(parts, 1)
		result.Degraded = result.Value == nil

	case protocol.MnemonicStatus:
		result.Status = &protocol.StatusFields{
			Frequency:      field(parts, 1),
			SignalStrength: field(parts, 2),
			Mode:           field(parts, 3),
			Volume:         field(parts, 4),
			Squelch:        field(parts, 5),
		}
		result.Degraded = len(parts) < protocol.StatusFieldCount

	default:
		// Unknown mnemonics pass through untouched.
		result.Value = protocol.String(raw)
	}

	return result
}

// Echo returns the mnemonic echoed in the first field of a reply.
func (p *Parser) Echo(raw string) protocol.Mnemonic {
	head, _, _ := strings.Cut(raw, protocol.FieldSeparator)
	return protocol.Mnemonic(strings.TrimSpace(head))
}

// Line picks the line of raw that answers cmd. raw may also carry a late
// reply to an earlier command. An empty reply answers any command; ok is
// false only when raw has lines and none of them echoes cmd.
func (p *Parser) Line(raw string, cmd protocol.Mnemonic) (line string, ok bool) {
	lines := strings.FieldsFunc(raw, func(r rune) bool { return r == '\r' || r == '\n' })
	empty := true
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		empty = false
		if p.Echo(l) == cmd {
			line, ok = l, true
		}
	}
	if empty {
		return "", true
	}
	return line, ok
}

// ParseResponse is a convenience wrapper around a zero Parser.
func ParseResponse(raw string, cmd protocol.Mnemonic) protocol.ParsedField {
	return (&Parser{}).Parse(raw, cmd)
}

func field(parts []string, i int) *string {
	if i >= len(parts) {
		return nil
	}
	return protocol.String(parts[i])
}
