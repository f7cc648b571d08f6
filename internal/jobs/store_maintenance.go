package jobs

import (
	"context"
	"fmt"
)

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Summary aggregates job state for diagnostic output.
func (s *Store) Summary(ctx context.Context) (QueueSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return QueueSummary{}, err
	}
	summary := QueueSummary{}
	for status, count := range stats {
		summary.Total += count
		switch status {
		case StatusFailed:
			summary.Failed += count
		case StatusCompleted:
			summary.Completed += count
		case StatusAborted:
			summary.Aborted += count
		default:
			if IsProcessingStatus(status) {
				summary.Processing += count
			} else if IsWaitingStatus(status) {
				summary.Waiting += count
			}
		}
	}
	return summary, nil
}
