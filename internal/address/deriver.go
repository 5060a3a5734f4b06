package address

import (
	"encoding/hex"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is used when a non-positive cache size is configured.
const DefaultCacheSize = 1024

// Programs holds the program ids derivations are made against.
type Programs struct {
	Darkpool Pubkey
	MPC      Pubkey
}

// Deriver derives every account address the client needs. Results are
// cached; derivation itself is pure, so the cache never changes an answer.
type Deriver struct {
	programs Programs
	cache    *lru.Cache[string, Derived]
}

// NewDeriver creates a Deriver with an LRU cache of cacheSize entries.
func NewDeriver(programs Programs, cacheSize int) (*Deriver, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, Derived](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Deriver{programs: programs, cache: cache}, nil
}

// Programs returns the configured program ids.
func (d *Deriver) Programs() Programs {
	return d.programs
}

func (d *Deriver) derive(ns Namespace, program Pubkey, keyMaterial ...[]byte) (Derived, error) {
	var sb strings.Builder
	sb.WriteString(string(ns))
	sb.WriteByte('/')
	sb.WriteString(hex.EncodeToString(program[:]))
	for _, k := range keyMaterial {
		sb.WriteByte('/')
		sb.WriteString(hex.EncodeToString(k))
	}
	key := sb.String()

	if cached, ok := d.cache.Get(key); ok {
		return cached, nil
	}
	derived, err := Derive(ns, program, keyMaterial...)
	if err != nil {
		return Derived{}, err
	}
	d.cache.Add(key, derived)
	return derived, nil
}

// Exchange returns the exchange singleton account.
func (d *Deriver) Exchange() (Derived, error) {
	return d.derive(NamespaceExchange, d.programs.Darkpool)
}

// Pair returns the trading pair account for base and quote mints.
func (d *Deriver) Pair(baseMint, quoteMint Pubkey) (Derived, error) {
	return d.derive(NamespacePair, d.programs.Darkpool, baseMint[:], quoteMint[:])
}

// Order returns the order account for a maker's nonce.
func (d *Deriver) Order(maker Pubkey, nonce uint64) (Derived, error) {
	return d.derive(NamespaceOrder, d.programs.Darkpool, maker[:], U64Seed(nonce))
}

// Balance returns the confidential balance account of owner for mint.
func (d *Deriver) Balance(owner, mint Pubkey) (Derived, error) {
	return d.derive(NamespaceBalance, d.programs.Darkpool, owner[:], mint[:])
}

// Signer returns the darkpool program's signing authority for MPC callbacks.
func (d *Deriver) Signer() (Derived, error) {
	return d.derive(NamespaceSigner, d.programs.Darkpool)
}

// MXE returns the MPC execution environment account bound to the darkpool
// program.
func (d *Deriver) MXE() (Derived, error) {
	return d.derive(NamespaceMXE, d.programs.MPC, d.programs.Darkpool[:])
}

// Mempool returns the cluster mempool account.
func (d *Deriver) Mempool(clusterOffset uint32) (Derived, error) {
	return d.derive(NamespaceMempool, d.programs.MPC, U32Seed(clusterOffset))
}

// Execpool returns the cluster executing-pool account.
func (d *Deriver) Execpool(clusterOffset uint32) (Derived, error) {
	return d.derive(NamespaceExecpool, d.programs.MPC, U32Seed(clusterOffset))
}

// Computation returns the per-computation account.
func (d *Deriver) Computation(clusterOffset uint32, computationOffset uint64) (Derived, error) {
	return d.derive(NamespaceComputation, d.programs.MPC, U32Seed(clusterOffset), U64Seed(computationOffset))
}

// CompDef returns the computation-definition account of a circuit.
func (d *Deriver) CompDef(compDefOffset uint32) (Derived, error) {
	return d.derive(NamespaceCompDef, d.programs.MPC, d.programs.Darkpool[:], U32Seed(compDefOffset))
}

// Cluster returns the cluster account.
func (d *Deriver) Cluster(clusterOffset uint32) (Derived, error) {
	return d.derive(NamespaceCluster, d.programs.MPC, U32Seed(clusterOffset))
}

// FeePool returns the MPC fee pool singleton.
func (d *Deriver) FeePool() (Derived, error) {
	return d.derive(NamespaceFeePool, d.programs.MPC)
}

// Clock returns the MPC clock singleton.
func (d *Deriver) Clock() (Derived, error) {
	return d.derive(NamespaceClock, d.programs.MPC)
}

// AssociatedTokenAccount returns the canonical token account of owner for
// mint under tokenProgram.
func (d *Deriver) AssociatedTokenAccount(owner, mint, tokenProgram Pubkey) (Pubkey, error) {
	key := "ata/" + owner.String() + "/" + mint.String() + "/" + tokenProgram.String()
	if cached, ok := d.cache.Get(key); ok {
		return cached.Address, nil
	}
	pk, bump, err := FindProgramAddress([][]byte{owner[:], tokenProgram[:], mint[:]}, AssociatedTokenProgram)
	if err != nil {
		return Pubkey{}, err
	}
	d.cache.Add(key, Derived{Address: pk, Bump: bump})
	return pk, nil
}

// ComputationAccounts bundles the MPC accounts a queued computation touches.
type ComputationAccounts struct {
	MXE         Pubkey
	Mempool     Pubkey
	Execpool    Pubkey
	Computation Pubkey
	CompDef     Pubkey
	Cluster     Pubkey
	FeePool     Pubkey
	Clock       Pubkey
	Signer      Pubkey
}

// ComputationAccountsFor derives every account needed to queue one
// computation of the named circuit.
func (d *Deriver) ComputationAccountsFor(clusterOffset uint32, computationOffset uint64, circuit string) (ComputationAccounts, error) {
	var out ComputationAccounts
	steps := []struct {
		dst *Pubkey
		fn  func() (Derived, error)
	}{
		{&out.MXE, d.MXE},
		{&out.Mempool, func() (Derived, error) { return d.Mempool(clusterOffset) }},
		{&out.Execpool, func() (Derived, error) { return d.Execpool(clusterOffset) }},
		{&out.Computation, func() (Derived, error) { return d.Computation(clusterOffset, computationOffset) }},
		{&out.CompDef, func() (Derived, error) { return d.CompDef(CompDefOffset(circuit)) }},
		{&out.Cluster, func() (Derived, error) { return d.Cluster(clusterOffset) }},
		{&out.FeePool, d.FeePool},
		{&out.Clock, d.Clock},
		{&out.Signer, d.Signer},
	}
	for _, s := range steps {
		derived, err := s.fn()
		if err != nil {
			return ComputationAccounts{}, err
		}
		*s.dst = derived.Address
	}
	return out, nil
}
