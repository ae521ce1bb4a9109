package extract

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// ContentHash returns the hex sha256 of image bytes.
func ContentHash(data []byte) string {
	h, _ := HashReader(bytes.NewReader(data))
	return h
}

func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
