// Package token signs and verifies the session tokens handed to clients.
//
// A token is a compact JWT carrying the session id (sid), the user id (uid),
// a random token id (jti), and the session expiry. The signature lets the
// engine reject forged or tampered tokens before touching any session
// storage; the session store still compares the token hash so a valid
// signature alone never authenticates a destroyed session.
package token
