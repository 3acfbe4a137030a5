// Package secretly is the authentication and session layer of a small
// anonymous secrets board.
//
// A person has exactly one User, whether they log in with a local password,
// with Google, or both. Local credentials are verified by LocalAuth and kept
// only as bcrypt hashes. Federated logins go through a FederatedAuth (see the
// oauth2 subpackage) which finds or creates the User for a provider identity
// atomically.
//
// # Architecture
//
// UserStore: durable identity storage. Implementations live under stores/
// (filesystem, GORM, Cloud Datastore) and enforce username and federated id
// uniqueness themselves.
//
// Sessions: binds a User id to a server-side scs session. The token is
// rotated on every login and the session is destroyed on logout.
//
// Gate: restores the session's User into the request context and redirects
// unauthenticated requests away from protected routes.
//
// App: wires the above to the HTTP routes and renders the pages.
//
// # Basic Usage
//
//	users := fs.NewFSUserStore("/var/lib/secretly")
//	sessions := &secretly.Sessions{
//	    Manager: secretly.NewSessionManager(secretly.SessionOptions{Secure: true}),
//	    Users:   users,
//	}
//	app := secretly.New(users, sessions)
//	app.Federated = oauth2.NewGoogleOAuth2(clientId, clientSecret, callbackURL, stateSecret, users)
//	http.ListenAndServe(":3000", app.Handler())
//
// # Errors
//
// Store failures that may succeed on retry wrap ErrStoreUnavailable; use
// IsRetryable to tell them apart from misses (ErrUserNotFound) and
// uniqueness violations (ErrConflict). Reads are retried once, writes never.
package secretly
