package utils

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apex/log/handlers/cli"
)

var normalPadding = cli.Default.Padding

// Indent indents apex log line to supplied level
func Indent(f func(s string), level int) func(string) {
	return func(s string) {
		cli.Default.Padding = normalPadding * level
		f(s)
		cli.Default.Padding = normalPadding
	}
}

// Pad creates left padding for printf members
func Pad(length int) string {
	if length > 0 {
		return strings.Repeat(" ", length)
	}
	return " "
}

// ParseCodeUnits parses whitespace separated 16-bit code units written in hex,
// e.g. "1252 0800 0f02"
func ParseCodeUnits(s string) ([]uint16, error) {
	fields := strings.Fields(s)
	units := make([]uint16, 0, len(fields))
	for i, f := range fields {
		f = strings.TrimPrefix(strings.ToLower(f), "0x")
		u, err := strconv.ParseUint(f, 16, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid code unit %d %q: %w", i, fields[i], err)
		}
		units = append(units, uint16(u))
	}
	return units, nil
}
