package persist

import (
	"context"
	"fmt"
)

// Journal buffers records produced on the tick goroutine until the
// persistence system flushes them. Not safe for concurrent use.
type Journal struct {
	ownership []OwnershipRecord
	sessions  []SessionRecord
}

func (j *Journal) RecordOwnership(r OwnershipRecord) {
	j.ownership = append(j.ownership, r)
}

func (j *Journal) RecordSession(r SessionRecord) {
	j.sessions = append(j.sessions, r)
}

// Len returns the number of buffered records.
func (j *Journal) Len() int {
	return len(j.ownership) + len(j.sessions)
}

// Flush writes everything buffered to s. Records that failed to write stay
// buffered for the next flush.
func (j *Journal) Flush(ctx context.Context, s *ObjectStore) error {
	if len(j.ownership) > 0 {
		if err := s.AppendOwnership(ctx, j.ownership); err != nil {
			return err
		}
		j.ownership = j.ownership[:0]
	}
	for len(j.sessions) > 0 {
		if err := s.RecordSession(ctx, j.sessions[0]); err != nil {
			return fmt.Errorf("flush sessions: %w", err)
		}
		j.sessions = j.sessions[1:]
	}
	return nil
}
