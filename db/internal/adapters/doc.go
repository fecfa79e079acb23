// Package adapters contains the database driver adapters for the bulk
// writer. The pgx adapter uses the native COPY protocol; the sql.DB and
// sqlx adapters reach COPY through lib/pq's CopyIn inside a transaction.
package adapters
