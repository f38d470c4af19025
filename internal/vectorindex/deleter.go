package vectorindex

import "context"

// MultiDeleter fans a per-video deletion out to every index.
type MultiDeleter struct {
	indexes []Index
}

func NewMultiDeleter(indexes ...Index) *MultiDeleter {
	return &MultiDeleter{indexes: indexes}
}

// DeleteVideoVectors removes all of a video's vectors from each index.
// The first failure aborts, leaving the remaining indexes untouched;
// the operation is safe to retry because deletion is idempotent.
func (d *MultiDeleter) DeleteVideoVectors(ctx context.Context, videoID string) error {
	filter := Filter{VideoID: videoID}
	for _, idx := range d.indexes {
		if err := idx.DeleteByFilter(ctx, filter); err != nil {
			return err
		}
	}
	return nil
}
