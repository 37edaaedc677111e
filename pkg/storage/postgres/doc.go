// Package postgres owns memhub's PostgreSQL connections and schema.
//
// ConnectionManager opens the primary pool used for every write, plus
// optional read replicas for read-only listings such as audit search.
// RunMigrations applies the versioned schema recorded in schema_migrations.
package postgres
