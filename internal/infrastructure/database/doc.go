// Package database opens the SQLite file behind the router journal and keeps
// its schema current.
//
// The pool holds a single connection since SQLite allows one writer. With
// WAL enabled, status readers do not block the journal recorder. Schema
// changes are plain SQL files applied by Migrate from any fs.FS; the
// binary embeds them through the migrations package.
package database
