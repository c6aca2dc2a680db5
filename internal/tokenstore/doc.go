// Package tokenstore provides keyed persistent storage for authentication tokens.
//
// A Store maps a key (usually DefaultKey) to a Token. A key that was never
// written reads back as Absent, which is distinct from a present empty string.
//
// Supported backends with different durability and deployment tradeoffs:
//   - File: one file per key with atomic writes and secure permissions
//   - Env: read-only environment variable access
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - SQLite: a single kv table in a local database file
//   - Memory: process-local map, lost on exit
package tokenstore
