// Package store is the relational task store. It runs on Postgres in
// deployments and on SQLite for local mode and tests; the schema and
// queries are written to work on both.
//
// Methods that participate in multi-row writes take a Querier, which is
// satisfied by *sql.DB and *sql.Tx, so the service layer can pair a subtask
// write with its parent's aggregate recompute inside one Transaction.
package store
