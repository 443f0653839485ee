package modem

import (
	"fmt"
	"strconv"
)

// Named baudmodes and their baud rates. Numeric baudmodes are their
// own baud rate.
var baudmodes = map[string]float64{
	"rtty":       45.45,
	"tdd":        45.45,
	"same":       520.83,
	"callerid":   1200,
	"uic-train":  600,
	"uic-ground": 600,
}

// BaudRate resolves a baudmode string to its baud rate.
func BaudRate(baudmode string) (float64, error) {
	if rate, err := strconv.ParseFloat(baudmode, 64); err == nil && rate > 0 {
		return rate, nil
	}
	if rate, ok := baudmodes[baudmode]; ok {
		return rate, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBaudmode, baudmode)
}
