// Package history stores channel state changes and input events in
// SQLite for local querying and troubleshooting. It is optional and
// enabled via config; the bridge feeds it from entity callbacks.
package history
