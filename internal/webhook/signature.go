package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// SignatureAlgorithm is the only algorithm identifier accepted in the
// X-Hub-Signature header.
const SignatureAlgorithm = "sha1"

// VerifySignature reports whether header carries a valid HMAC-SHA1 of body
// keyed by secret. The header must look like "sha1=<hex>".
//
// The comparison runs in constant time. An empty header, an empty secret, an
// unknown algorithm or a non-hex digest all fail closed.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}

	algorithm, digest, ok := strings.Cut(header, "=")
	if !ok || algorithm != SignatureAlgorithm {
		return false
	}

	presented, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}

	return hmac.Equal(computeMAC(secret, body), presented)
}

// ComputeSignature returns the X-Hub-Signature value for body.
func ComputeSignature(secret string, body []byte) string {
	return SignatureAlgorithm + "=" + hex.EncodeToString(computeMAC(secret, body))
}

func computeMAC(secret string, body []byte) []byte {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
