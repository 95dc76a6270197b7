// Package pipeline runs one push delivery through to deployment:
//
//	parse → resolve → verify signature → lock checkout → reconcile → build → deploy
//
// Every step that fails before reconciliation rejects the delivery (HTTP 400,
// or 413 for an oversized body). Failures from reconciliation onward fail it
// (HTTP 500). A push to a branch other than the production branch succeeds
// without building anything.
//
// Collaborators are injected as interfaces so the orchestration can be
// exercised with mocks (see the mocks package).
package pipeline
