// Package database provides the PostgreSQL connection pool and schema used
// to record push traffic.
package database
