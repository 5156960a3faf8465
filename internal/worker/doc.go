// Package worker runs blocking file and database work on a bounded pool.
package worker
