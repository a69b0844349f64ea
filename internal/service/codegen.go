package service

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// GeneratedCodePrefix marks codes minted on exhaustion rather than uploaded
const GeneratedCodePrefix = "THANKS-"

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateCode returns THANKS- followed by 8 random characters from A-Z0-9
func GenerateCode() (string, error) {
	var b strings.Builder
	b.WriteString(GeneratedCodePrefix)

	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < 8; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
