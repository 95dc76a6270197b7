package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Parse validates an inbound delivery and extracts its push notification.
// method and header come from the HTTP request; body is the raw payload.
func Parse(method string, header http.Header, body []byte) (*PushNotification, error) {
	if method != http.MethodPost {
		return nil, &ValidationError{Kind: KindMethod, Msg: "Incorrect request method"}
	}

	if !strings.EqualFold(header.Get("Content-Type"), "application/json") {
		return nil, &ValidationError{Kind: KindContentType, Msg: "Incorrect content type"}
	}

	if !strings.EqualFold(header.Get(HeaderEvent), PushEvent) {
		return nil, &ValidationError{Kind: KindEvent, Msg: "Unsupported git event"}
	}

	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ValidationError{Kind: KindMalformedJSON, Msg: "Incorrect request: not a JSON format."}
	}

	n := &PushNotification{
		DeliveryID: header.Get(HeaderDelivery),
		Ref:        payload.Ref,
	}
	if repo := payload.Repository; repo != nil {
		if repo.FullName != nil {
			n.FullName = *repo.FullName
		}
		n.CloneURL = repo.CloneURL
		n.SSHURL = repo.SSHURL
	}
	if payload.HeadCommit != nil {
		n.HeadCommit = payload.HeadCommit.ID
	}

	if n.FullName == "" {
		return nil, &MissingFieldError{Field: "repository.full_name"}
	}

	return n, nil
}

// DeclaredLength returns the request's declared body length. Missing,
// malformed or negative lengths count as zero.
func DeclaredLength(r *http.Request) int64 {
	if r.ContentLength > 0 {
		return r.ContentLength
	}
	n, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get("Content-Length")), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ReadBody reads exactly the declared number of body bytes.
// Declared lengths above maxBytes yield ErrBodyTooLarge.
func ReadBody(r *http.Request, maxBytes int64) ([]byte, error) {
	n := DeclaredLength(r)
	if maxBytes > 0 && n > maxBytes {
		return nil, ErrBodyTooLarge
	}
	if n == 0 || r.Body == nil {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, n))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return body, nil
}
