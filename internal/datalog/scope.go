package datalog

// ScopeKind tags how a TrustedScope selects fact scopes.
type ScopeKind int

const (
	ScopeAuthority ScopeKind = iota
	ScopePrevious
	ScopePublicKey
)

// TrustedScope restricts a rule or query to a subset of block-origin facts:
// the authority block and authorizer, every earlier block, or every block
// whose external signature verified under a given public key index.
type TrustedScope struct {
	Kind          ScopeKind
	PublicKeyIdx  int64
}

func Authority() TrustedScope               { return TrustedScope{Kind: ScopeAuthority} }
func Previous() TrustedScope                { return TrustedScope{Kind: ScopePrevious} }
func PublicKey(idx int64) TrustedScope      { return TrustedScope{Kind: ScopePublicKey, PublicKeyIdx: idx} }

// ThirdPartyVerified reports, for a block index, whether its external
// signature verified under the given public key index. The evaluator
// derives this map from the chain before running the fixpoint.
type ThirdPartyVerified func(blockIndex int, publicKeyIdx int64) bool

// Expand computes the set of block indexes visible under scopes S to a
// rule or check executing at block index i (§4.5 "Scope expansion").
// authorizerCtx is true when the executing context is the authorizer
// itself, in which case Previous contributes nothing and there is no
// "own" block index to add.
func Expand(scopes []TrustedScope, i int, authorizerCtx bool, verified ThirdPartyVerified, blockCount int) map[int]bool {
	out := map[int]bool{}
	if !authorizerCtx {
		out[i] = true
	}
	if len(scopes) == 0 {
		out[0] = true
	}
	for _, s := range scopes {
		switch s.Kind {
		case ScopeAuthority:
			out[0] = true
		case ScopePrevious:
			if !authorizerCtx {
				for j := 0; j < i; j++ {
					out[j] = true
				}
			}
		case ScopePublicKey:
			for j := 0; j < blockCount; j++ {
				if verified(j, s.PublicKeyIdx) {
					out[j] = true
				}
			}
		}
	}
	return out
}
