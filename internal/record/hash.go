package record

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashContent returns the hex SHA-256 of raw record file bytes.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ContentHash hashes the canonical encoding of e, so two entities with equal
// fields hash alike whatever their source formatting.
func ContentHash(e *Entity) (string, error) {
	data, err := Encode(e)
	if err != nil {
		return "", err
	}
	return HashContent(data), nil
}
