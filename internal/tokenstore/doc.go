// Package tokenstore provides persistent single-record storage for OAuth2 access tokens.
//
// Supports four backends with different deployment tradeoffs:
//   - SQLite: embedded database file, the default for single-host automation
//   - SQL Server: shared database for hosts that already run one
//   - File: JSON file with atomic writes and secure permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//
// Every backend keeps one record at a time. Failures are reported wrapped in
// ErrStorage so callers can tell storage faults from issuer or upload faults.
package tokenstore
