package main

import (
	"encoding/hex"
	"strings"
)

// decodeHex accepts "0a0b0c" as well as "0x0a0b0c".
func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}
