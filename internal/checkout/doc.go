// Package checkout reconciles a local working copy with a pushed commit.
//
// Reconcile takes a push notification and the repository's configuration and
// either skips it (the push is not to the production branch) or brings the
// checkout to exactly the pushed commit:
//
//   - the notification's origin must name the configured remote
//   - the working copy is opened, or cloned fresh when it is missing, corrupt
//     or points at a different remote
//   - everything not in the HEAD tree is removed, ignored files included, and
//     tracked files are hard reset
//   - the production branch is fetched, checked out and fast-forwarded
//   - HEAD must then equal the notification's head commit
//
// Git access goes through the Backend interface. NewGitBackend implements it
// with go-git.
package checkout
