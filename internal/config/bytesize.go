package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Suffix table ordered so the binary units match before their decimal
// prefixes and a bare B matches last.
var byteSuffixes = []struct {
	unit string
	mult int64
}{
	{"KIB", 1 << 10},
	{"MIB", 1 << 20},
	{"GIB", 1 << 30},
	{"KB", 1_000},
	{"MB", 1_000_000},
	{"GB", 1_000_000_000},
	{"B", 1},
}

// ParseByteSize parses sizes like "512KB", "10 MiB" or "1_048_576". Unit
// names are case insensitive; a bare number is a byte count.
func ParseByteSize(s string) (int64, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return 0, fmt.Errorf("empty size")
	}
	in = strings.ToUpper(strings.ReplaceAll(in, "_", ""))

	mult := int64(1)
	for _, u := range byteSuffixes {
		if strings.HasSuffix(in, u.unit) {
			mult = u.mult
			in = strings.TrimSpace(strings.TrimSuffix(in, u.unit))
			break
		}
	}

	n, err := strconv.ParseInt(in, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if mult > 1 && n > math.MaxInt64/mult {
		return 0, fmt.Errorf("size overflow %q", s)
	}
	return n * mult, nil
}
