package webhook

import (
	"errors"
	"fmt"
)

// Header names used by GitHub webhook deliveries.
const (
	HeaderSignature = "X-Hub-Signature"
	HeaderEvent     = "X-GitHub-Event"
	HeaderDelivery  = "X-GitHub-Delivery"
)

// PushEvent is the only event type accepted.
const PushEvent = "push"

// PushNotification is the subset of a push payload used for deployment.
// Fields other than FullName may be absent; nil means the payload did not
// carry them.
type PushNotification struct {
	FullName   string
	DeliveryID string

	CloneURL   *string
	SSHURL     *string
	Ref        *string
	HeadCommit *string
}

// OriginURL returns clone_url when https is true and ssh_url otherwise.
func (n *PushNotification) OriginURL(https bool) (string, error) {
	if https {
		return requireField("repository.clone_url", n.CloneURL)
	}
	return requireField("repository.ssh_url", n.SSHURL)
}

// BranchRef returns the pushed ref.
func (n *PushNotification) BranchRef() (string, error) {
	return requireField("ref", n.Ref)
}

// HeadCommitID returns head_commit.id.
func (n *PushNotification) HeadCommitID() (string, error) {
	return requireField("head_commit.id", n.HeadCommit)
}

func requireField(field string, v *string) (string, error) {
	if v == nil || *v == "" {
		return "", &MissingFieldError{Field: field}
	}
	return *v, nil
}

// Kind classifies a ValidationError.
type Kind string

const (
	KindMethod        Kind = "method"
	KindContentType   Kind = "content_type"
	KindEvent         Kind = "event"
	KindMalformedJSON Kind = "malformed_json"
)

// ValidationError reports a request that is not a supported push delivery.
type ValidationError struct {
	Kind Kind
	Msg  string
}

func (e *ValidationError) Error() string { return e.Msg }

// MissingFieldError reports a payload field that is required but absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing %s", e.Field)
}

// ErrBodyTooLarge is returned by ReadBody when the declared length exceeds
// the configured limit.
var ErrBodyTooLarge = errors.New("payload too large")

// IsClientError reports whether err describes a malformed or unsupported
// request rather than a server-side failure.
func IsClientError(err error) bool {
	var ve *ValidationError
	var mf *MissingFieldError
	return errors.As(err, &ve) || errors.As(err, &mf) || errors.Is(err, ErrBodyTooLarge)
}

type pushPayload struct {
	Ref        *string            `json:"ref"`
	Repository *payloadRepository `json:"repository"`
	HeadCommit *payloadCommit     `json:"head_commit"`
}

type payloadRepository struct {
	FullName *string `json:"full_name"`
	CloneURL *string `json:"clone_url"`
	SSHURL   *string `json:"ssh_url"`
}

type payloadCommit struct {
	ID *string `json:"id"`
}
