package main

import (
	"fmt"

	"github.com/ridgekv/ridgekv"
)

func parseKeyKind(s string) (ridgekv.KeyKind, error) {
	switch s {
	case "", "bytes":
		return ridgekv.KeyKindBytes, nil
	case "uint8":
		return ridgekv.KeyKindUint8, nil
	case "uint16":
		return ridgekv.KeyKindUint16, nil
	case "uint32":
		return ridgekv.KeyKindUint32, nil
	case "uint64":
		return ridgekv.KeyKindUint64, nil
	case "float32":
		return ridgekv.KeyKindFloat32, nil
	case "float64":
		return ridgekv.KeyKindFloat64, nil
	default:
		return 0, fmt.Errorf("unknown key kind %q (want bytes, uint8, uint16, uint32, uint64, float32, float64)", s)
	}
}
