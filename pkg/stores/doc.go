// Package stores provides the SQLite operation journal for pondsync.
// It records every pond create, update and delete and every sweep pass,
// using embedded migrations and WAL mode.
package stores
