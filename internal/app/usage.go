package app

import "sync"

// UsageAccumulator is the process-wide ledger of tokens spent and
// exchanges completed. It only ever grows; deleting an exchange later
// does not refund cost that was genuinely incurred.
type UsageAccumulator struct {
	mu    sync.Mutex
	usage Usage
	fs    *FileStore
}

func NewUsageAccumulator(fs *FileStore) (*UsageAccumulator, error) {
	u := &UsageAccumulator{fs: fs}
	if _, err := fs.Load(collectionUsage, &u.usage); err != nil {
		return nil, err
	}
	return u, nil
}

// Increment adds to the counters and schedules a persistence snapshot.
func (u *UsageAccumulator) Increment(tokenDelta, exchangeDelta int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage.TokenCount += tokenDelta
	u.usage.ExchangeCount += exchangeDelta
	u.fs.Put(collectionUsage, u.usage)
}

// Read returns the current counters.
func (u *UsageAccumulator) Read() Usage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.usage
}
