// Package intern implements the two-tier symbol/public-key interning
// tables (§4.1): a fixed 28-entry default symbol prefix shared by every
// token, plus per-block user symbols starting at index 1024. Public key
// interning mirrors symbol interning but reserves no indexes.
package intern

import (
	"sync"

	"github.com/certen/biscuit/internal/errs"
)

// DefaultSymbolPrefix is the index at which per-block user symbols begin;
// indexes below it are reserved for DefaultSymbols.
const DefaultSymbolPrefix = 1024

// DefaultSymbols is the hard-coded, process-wide default symbol table
// shared by every token (§6 "Default symbol table").
var DefaultSymbols = []string{
	"read", "write", "resource", "operation", "right", "time", "role",
	"owner", "tenant", "namespace", "user", "team", "service", "admin",
	"email", "group", "member", "ip_address", "client", "client_ip",
	"domain", "path", "version", "cluster", "node", "hostname", "nonce",
	"query",
}

// SymbolTable interns strings to stable small integer indexes. The zero
// value is not usable; construct with NewSymbolTable.
type SymbolTable struct {
	mu      sync.RWMutex
	bySym   map[string]uint64
	byIndex map[uint64]string
	next    uint64
}

// NewSymbolTable creates a table seeded with DefaultSymbols at indexes
// 0..27 and ready to intern user symbols starting at DefaultSymbolPrefix.
func NewSymbolTable() *SymbolTable {
	t := &SymbolTable{
		bySym:   make(map[string]uint64),
		byIndex: make(map[uint64]string),
		next:    DefaultSymbolPrefix,
	}
	for i, s := range DefaultSymbols {
		idx := uint64(i)
		t.bySym[s] = idx
		t.byIndex[idx] = s
	}
	return t
}

// NewIsolatedSymbolTable creates a table with the default symbols reserved
// but no user symbols — used for third-party blocks, which keep a private
// table that never reads from or writes to the primary table.
func NewIsolatedSymbolTable() *SymbolTable { return NewSymbolTable() }

// Intern returns the index for sym, assigning a fresh one above the
// default prefix if it is new.
func (t *SymbolTable) Intern(sym string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx, ok := t.bySym[sym]; ok {
		return idx
	}
	idx := t.next
	t.next++
	t.bySym[sym] = idx
	t.byIndex[idx] = sym
	return idx
}

// Lookup resolves an index to its symbol string.
func (t *SymbolTable) Lookup(idx uint64) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byIndex[idx]
	if !ok {
		return "", errs.Validation(errs.CodeUnknownSymbol, "unknown symbol index %d", idx)
	}
	return s, nil
}

// Index returns the index already assigned to sym, if any, without
// interning it.
func (t *SymbolTable) Index(sym string) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.bySym[sym]
	return idx, ok
}

// Extend merges a block's newly-introduced symbol list (in index order,
// starting at the table's current high-water mark) into the table. It
// rejects a symbol already present (CodeDuplicateSymbol), matching the
// "each block extends the ambient table and must not redeclare a symbol"
// rule from §4.1.
func (t *SymbolTable) Extend(newSymbols []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range newSymbols {
		if _, exists := t.bySym[s]; exists {
			return errs.Validation(errs.CodeDuplicateSymbol, "duplicate symbol %q", s)
		}
	}
	for _, s := range newSymbols {
		idx := t.next
		t.next++
		t.bySym[s] = idx
		t.byIndex[idx] = s
	}
	return nil
}

// OwnSymbols returns every user symbol this table holds above
// DefaultSymbolPrefix, in index order — the table's full extension over
// the default prefix, spanning every block that has interned into it.
func (t *SymbolTable) OwnSymbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.byIndex))
	for i := uint64(DefaultSymbolPrefix); i < t.next; i++ {
		out = append(out, t.byIndex[i])
	}
	return out
}

// HighWaterMark returns the table's current next-assigned index, to be
// passed to SymbolsSince after a block's facts/rules/checks have been
// interned, yielding just the symbols that one block introduced.
func (t *SymbolTable) HighWaterMark() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.next
}

// SymbolsSince returns the symbols interned at or above mark, in index
// order — what a single block introduces on the wire (§4.1), as opposed
// to OwnSymbols' whole-table view.
func (t *SymbolTable) SymbolsSince(mark uint64) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.byIndex))
	for i := mark; i < t.next; i++ {
		out = append(out, t.byIndex[i])
	}
	return out
}

// PublicKeyTable interns public keys (algorithm + raw bytes) to stable
// indexes, with no reserved prefix.
type PublicKeyTable struct {
	mu     sync.RWMutex
	byKey  map[pkKey]int64
	byIdx  map[int64]pkKey
	next   int64
}

type pkKey struct {
	algorithm int
	raw       string
}

func NewPublicKeyTable() *PublicKeyTable {
	return &PublicKeyTable{
		byKey: make(map[pkKey]int64),
		byIdx: make(map[int64]pkKey),
	}
}

// Intern interns a public key identified by algorithm id and raw bytes.
func (t *PublicKeyTable) Intern(algorithm int, raw []byte) int64 {
	k := pkKey{algorithm: algorithm, raw: string(raw)}
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx, ok := t.byKey[k]; ok {
		return idx
	}
	idx := t.next
	t.next++
	t.byKey[k] = idx
	t.byIdx[idx] = k
	return idx
}

// Lookup resolves an index back to (algorithm, raw bytes).
func (t *PublicKeyTable) Lookup(idx int64) (algorithm int, raw []byte, err error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	k, ok := t.byIdx[idx]
	if !ok {
		return 0, nil, errs.Validation(errs.CodeUnknownPublicKey, "unknown public key index %d", idx)
	}
	return k.algorithm, []byte(k.raw), nil
}

// Extend merges a block's newly-introduced public keys, rejecting a
// duplicate already present (CodeDuplicatePublicKey).
func (t *PublicKeyTable) Extend(algorithms []int, raws [][]byte) error {
	if len(algorithms) != len(raws) {
		panic("intern: mismatched algorithm/raw slices")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range algorithms {
		k := pkKey{algorithm: algorithms[i], raw: string(raws[i])}
		if _, exists := t.byKey[k]; exists {
			return errs.Validation(errs.CodeDuplicatePublicKey, "duplicate public key")
		}
	}
	for i := range algorithms {
		k := pkKey{algorithm: algorithms[i], raw: string(raws[i])}
		idx := t.next
		t.next++
		t.byKey[k] = idx
		t.byIdx[idx] = k
	}
	return nil
}

// Tables bundles a token's interning state: one primary symbol/public-key
// table pair, plus a per-block-index map of isolated third-party symbol
// tables (§4.1 "A token's interning state therefore comprises a primary
// table plus a mapping from block index to a per-third-party table").
type Tables struct {
	Symbols    *SymbolTable
	PublicKeys *PublicKeyTable

	mu          sync.Mutex
	thirdParty  map[int]*SymbolTable
}

func NewTables() *Tables {
	return &Tables{
		Symbols:    NewSymbolTable(),
		PublicKeys: NewPublicKeyTable(),
		thirdParty: make(map[int]*SymbolTable),
	}
}

// ThirdPartyTable returns (creating if absent) the isolated symbol table
// for the block at the given index.
func (t *Tables) ThirdPartyTable(blockIndex int) *SymbolTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tbl, ok := t.thirdParty[blockIndex]; ok {
		return tbl
	}
	tbl := NewIsolatedSymbolTable()
	t.thirdParty[blockIndex] = tbl
	return tbl
}
