package database

import (
	"fmt"
	"time"
)

// Inbound webhook bursts are throttled with counters in the shared store so
// the limit holds across multiple instances, unlike a process-local counter.
// Counts are bucketed per 10s slice and summed over the sliding window.
const rateLimitBucketSeconds = 10

// AllowRequest increments the counter for key and reports whether the total
// over the window is still within limit. A limit of 0 disables throttling.
func (db *DB) AllowRequest(key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	now := time.Now().Unix()
	bucket := now - now%rateLimitBucketSeconds
	oldest := now - int64(window.Seconds())

	_, err := db.conn.Exec(`
		INSERT INTO rate_limit_buckets (key, bucket, count) VALUES (?, ?, 1)
		ON CONFLICT(key, bucket) DO UPDATE SET count = count + 1
	`, key, bucket)
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit bucket: %w", err)
	}

	var total int
	err = db.conn.QueryRow(`
		SELECT COALESCE(SUM(count), 0) FROM rate_limit_buckets
		WHERE key = ? AND bucket >= ?
	`, key, oldest).Scan(&total)
	if err != nil {
		return false, fmt.Errorf("failed to sum rate limit buckets: %w", err)
	}

	return total <= limit, nil
}

// PruneRateLimitBuckets removes buckets older than the given horizon
func (db *DB) PruneRateLimitBuckets(horizon time.Duration) error {
	cutoff := time.Now().Add(-horizon).Unix()

	_, err := db.conn.Exec(`
		DELETE FROM rate_limit_buckets WHERE bucket < ?
	`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune rate limit buckets: %w", err)
	}
	return nil
}
