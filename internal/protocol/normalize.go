package protocol

import (
	"fmt"
	"strings"

	"github.com/heispv/biotrainer/internal/model"
)

// Normalize canonicalizes protocol names and common aliases.
func Normalize(name string) string {
	normalized := strings.TrimSpace(strings.ToLower(name))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.Trim(normalized, "_")
	if normalized == "" {
		return ""
	}
	if canonical, ok := canonicalProtocolName(normalized); ok {
		return canonical
	}
	return normalized
}

// Parse resolves a user-supplied protocol name to one of the supported
// protocols.
func Parse(name string) (Protocol, error) {
	normalized := Normalize(name)
	if normalized == "" {
		return "", fmt.Errorf("%w: protocol is required", model.ErrConfiguration)
	}
	p := Protocol(normalized)
	if _, err := Describe(p); err != nil {
		return "", fmt.Errorf("%w: unknown protocol: %s", model.ErrConfiguration, name)
	}
	return p, nil
}

func canonicalProtocolName(alias string) (string, bool) {
	switch alias {
	case "sequence_to_class", "sequence_to_value",
		"residue_to_class", "residue_to_value",
		"residue_pair_to_class":
		return alias, true
	}

	compact := strings.ReplaceAll(alias, "_", "")
	switch compact {
	case "sequencetoclass", "seq2class":
		return string(SequenceToClass), true
	case "sequencetovalue", "seq2value":
		return string(SequenceToValue), true
	case "residuetoclass", "res2class":
		return string(ResidueToClass), true
	case "residuetovalue", "res2value":
		return string(ResidueToValue), true
	case "residuepairtoclass", "respair2class":
		return string(ResiduePairToClass), true
	default:
		return "", false
	}
}
