// Package role holds role definitions and the process-wide [Cache] that
// serves them.
//
// The cache reloads the full role set from a [Repository] once per refresh
// interval and publishes it as an immutable snapshot. Readers never block
// on a reload once a first snapshot exists; at most one reload runs at a
// time, and a failed reload leaves the previous snapshot in place.
package role
