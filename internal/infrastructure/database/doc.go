// Package database manages the SQLite connection used for local history
// storage. It owns connection configuration (WAL mode, busy timeout,
// foreign keys via the connection string) and lifecycle; schema and
// queries live with the history package.
package database
