// Package crmauth keeps the client side of a CRM session: the bearer token
// and user identity the CRM API issued, whether they are still good, and what
// the signed in user may do.
//
// Session lifecycle:
//   - Manager owns the session. Init restores stored credentials and
//     validates them against the Authority, Login and Register replace them,
//     Logout clears them. Every mutation bumps a generation counter so a slow
//     validation or login that completes after a newer operation is dropped
//     instead of resurrecting stale state.
//   - While authenticated, a background loop revalidates the token on an
//     interval. A rejected token clears the session and marks it expired,
//     a network failure leaves it in place.
//   - Subscribe delivers a Snapshot after every state change.
//
// Storage:
//   - CredentialStore persists the token, identity and storage timestamp as
//     a single unit. MemoryCredentialStore and FileCredentialStore live here,
//     the repository package provides a bun/SQLite backed store, and
//     CookieCredentialStore keeps them in signed cookies for the web binding.
//
// Permissions:
//   - PermissionResolver answers "can this user perform action on resource".
//     Admin roles pass everything, a loaded permission set from the API wins
//     next, and a role table is the fallback until it arrives. Answers are
//     memoised per identity and dropped on Reset.
//
// HTTP:
//   - Sessions builds a short lived Manager per fiber request over cookie
//     storage. RegisterAuthRoutes mounts the login, register and logout pages
//     and the guard middleware package redirects unauthenticated requests.
//
// Activity sinks:
//   - ActivitySink receives login, logout, validation and permission events.
//     Sinks run best effort (errors are logged) so metrics and audit writers
//     never block the session.
package crmauth
