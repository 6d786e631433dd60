// Package status answers connection-status queries by reconciling live
// connector state with persisted records. A live connector is always
// authoritative; a persisted "connected" record with no live connector is
// unverifiable and reported as disconnected.
package status
