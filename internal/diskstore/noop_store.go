package diskstore

// NoopStore keeps nothing; every lookup misses.
type NoopStore struct{}

func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

func (NoopStore) Lookup(string) (Entry, bool)               { return Entry{}, false }
func (NoopStore) Write(string, []byte, Meta) (int64, error) { return 0, nil }
func (NoopStore) Remove(string) error                       { return nil }
func (NoopStore) Root() string                              { return "" }
func (NoopStore) Enabled() bool                             { return false }
