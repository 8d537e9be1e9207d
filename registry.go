package keylite

import "github.com/puzpuzpuz/xsync/v3"

// txnRegistry tracks open transactions by id so Engine.Close can report
// how many are still outstanding when it runs.
type txnRegistry struct {
	m *xsync.MapOf[string, *Transaction]
}

func newTxnRegistry() *txnRegistry {
	return &txnRegistry{m: xsync.NewMapOf[string, *Transaction]()}
}

func (r *txnRegistry) put(t *Transaction)    { r.m.Store(t.id, t) }
func (r *txnRegistry) remove(t *Transaction) { r.m.Delete(t.id) }
func (r *txnRegistry) count() int            { return r.m.Size() }
