// Package sshaudit keeps an audit trail of shell sessions in the
// application database.
//
// Records are written for successful connects, disconnects (with the
// connected duration), failed connects, transport errors and commands.
// Lifecycle records come from [Auditor.Observer], which is registered on
// the session manager; commands are logged explicitly by the HTTP layer
// through [Auditor.LogCommand].
//
// Entries older than the retention period are removed by
// [Auditor.PurgeOlderThan].
//
// Log prefix: [audit].
package sshaudit
