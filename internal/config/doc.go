// Package config handles configuration loading for chatline.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion (${VAR} syntax) and validated before use. Duration fields are
// written as Go duration strings ("500ms", "2m") and parsed at load time.
//
// # Sections
//
//   - server: HTTP listen address
//   - database: SQLite database path
//   - redis: shared cache (optional; omitting it degrades dedup and
//     creation locks to fail-open)
//   - sessions: artifact directory, settle delay, init and QR timeouts
//   - backend: agent backend URL, API key, per-call timeout
//   - logging: level and format (text or json)
package config
