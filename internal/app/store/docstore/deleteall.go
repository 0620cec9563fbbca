package docstore

import (
	"context"

	"github.com/dalemusser/selfmap/internal/app/system/metrics"
)

// DeleteResult reports the progress of DeleteAll.
type DeleteResult struct {
	Deleted int // documents removed by committed batches
	Commits int // batches committed
}

// DeleteAll removes every document matched by q in batches of at most
// MaxBatchSize, committing each batch before building the next.
//
// It is not atomic across batches. On error the result counts the batches
// that did commit; calling DeleteAll again removes whatever remains. An
// empty result set performs no writes.
func DeleteAll(ctx context.Context, s Store, q Query) (DeleteResult, error) {
	var res DeleteResult
	q.Limit = 0
	docs, err := s.Query(ctx, q)
	if err != nil {
		return res, err
	}

	for start := 0; start < len(docs); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(docs))
		b := s.Batch()
		for _, d := range docs[start:end] {
			b.Delete(d.Path)
		}
		if err := b.Commit(ctx); err != nil {
			return res, err
		}
		res.Commits++
		res.Deleted += end - start
		metrics.BatchCommits.Inc()
		metrics.DocumentsDeleted.Add(float64(end - start))
	}
	return res, nil
}
