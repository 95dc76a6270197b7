// Package webhook authenticates and validates GitHub push notifications.
//
// It covers the two request-level checks that run before any repository
// work happens:
//
//   - Parse validates method, content type and event type, decodes the JSON
//     payload and extracts the fields a deployment needs.
//   - VerifySignature checks the classic X-Hub-Signature header
//     ("sha1=<hex>") against an HMAC-SHA1 of the raw body.
//
// # Security Model
//
//   - Signatures are compared with crypto/hmac.Equal (constant time).
//   - Only the sha1 algorithm identifier is accepted; anything else fails closed.
//   - Secrets are never included in errors or logs.
//   - Missing headers and missing payload fields are typed client errors,
//     never panics.
//
// # Body Length
//
// The declared Content-Length decides how many bytes are read. A missing or
// malformed length is treated as zero; the resulting empty body is then
// rejected by JSON decoding.
package webhook
