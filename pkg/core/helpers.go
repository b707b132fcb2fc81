package core

import (
	"crypto/rand"
)

const symbols = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ-_"

// RandString returns size random symbols drawn from the first base symbols
// of the alphabet: 10 digits, 16 hex, 36 lowercase alnum, 62 alnum, 64 URL safe.
func RandString(size, base int) string {
	if base <= 0 || base > len(symbols) {
		base = len(symbols)
	}
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = symbols[int(b[i])%base]
	}
	return string(b)
}
