package parse

import (
	"strconv"

	"tlog.app/go/errors"
)

// Int parses a decimal or 0x prefixed hexadecimal integer with an optional sign.
func Int(b []byte, st int) (x int64, i int, err error) {
	i = st

	neg := false

	if i < len(b) && (b[i] == '-' || b[i] == '+') {
		neg = b[i] == '-'
		i++
	}

	base := 10

	if i+1 < len(b) && b[i] == '0' && (b[i+1] == 'x' || b[i+1] == 'X') {
		base = 16
		i += 2 // skip base prefix
	}

	dst := i

	for i < len(b) && digit(b[i], base) {
		i++
	}

	if i == dst {
		return 0, st, errors.Wrap(ErrSyntax, "integer expected")
	}

	u, err := strconv.ParseUint(string(b[dst:i]), base, 63)
	if err != nil {
		return 0, st, errors.Wrap(ErrSyntax, "integer out of range")
	}

	x = int64(u)
	if neg {
		x = -x
	}

	return x, i, nil
}

func digit(c byte, base int) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case base == 16 && (c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'):
		return true
	}

	return false
}
