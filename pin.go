package auth

import (
	"crypto/rand"
	"math/big"
	"strconv"
)

// DefaultPinDigits is the length of verification and reset pins.
const DefaultPinDigits = 8

const maxPinDigits = 18

// RandomPin returns a uniformly random integer in [10^(digits-1), 10^digits-1].
// Digits outside 1..18 fall back to DefaultPinDigits.
func RandomPin(digits int) (int64, error) {
	if digits < 1 || digits > maxPinDigits {
		digits = DefaultPinDigits
	}

	low := pow10(digits - 1)
	high := pow10(digits) - 1

	n, err := rand.Int(rand.Reader, big.NewInt(high-low+1))
	if err != nil {
		return 0, err
	}

	return low + n.Int64(), nil
}

// RandomPinString is RandomPin formatted in base 10.
func RandomPinString(digits int) (string, error) {
	pin, err := RandomPin(digits)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(pin, 10), nil
}

func pow10(n int) int64 {
	out := int64(1)
	for i := 0; i < n; i++ {
		out *= 10
	}
	return out
}
