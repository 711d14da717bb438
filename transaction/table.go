package transaction

// table is the transaction table of §4.3: a single-owner associative
// container keyed by TransactionKey. It is written only from the
// dispatcher goroutine (§5, concurrency model) and has no internal locking
// of its own; the Dispatcher's mutex guards it for the diagnostic readers
// Len and State.
type table struct {
	m map[TransactionKey]Transaction
}

func newTable() *table {
	return &table{m: make(map[TransactionKey]Transaction)}
}

func (t *table) insert(tx Transaction) {
	t.m[tx.Key()] = tx
}

func (t *table) find(key TransactionKey) (Transaction, bool) {
	tx, ok := t.m[key]
	return tx, ok
}

func (t *table) remove(key TransactionKey) {
	delete(t.m, key)
}

func (t *table) len() int {
	return len(t.m)
}
