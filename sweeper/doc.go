// Package sweeper removes expired sessions from the durable store in the
// background. Validation already rejects expired sessions lazily; the
// sweeper reclaims the ones nobody asks about again.
package sweeper
