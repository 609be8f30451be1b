package registry

import (
	"crypto/rand"
	"math/big"
)

const (
	roomCodeLength = 6
	codeChars      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

// generateRoomCode generates a random room code
func generateRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}

func looksLikeCode(s string) bool {
	if len(s) != roomCodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isCodeChar(s[i]) {
			return false
		}
	}
	return true
}

func isCodeChar(c byte) bool {
	for i := 0; i < len(codeChars); i++ {
		if codeChars[i] == c {
			return true
		}
	}
	return false
}
