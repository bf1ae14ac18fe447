package random

import (
	"math/rand/v2"
	"strings"
)

const (
	CharsetAlphaNumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	CharsetDigits       = "0123456789"
	CharsetLowerHex     = "0123456789abcdef"
)

// TemporaryPrefix marks client generated ids of donations created offline
const TemporaryPrefix = "tmp_"

func String(r *rand.Rand, options string, length int) (s string) {
	rOptions := []rune(options)

	var temp = make([]rune, length)
	for index := range temp {
		temp[index] = rOptions[r.IntN(len(rOptions))]
	}
	return string(temp)
}

// TemporaryId returns a fresh offline id. It never collides with server ids,
// which are UUIDs.
func TemporaryId() (id string) {
	return TemporaryPrefix + String(CryptoRand(), CharsetLowerHex, 24)
}

func IsTemporaryId(id string) bool {
	return strings.HasPrefix(id, TemporaryPrefix)
}
