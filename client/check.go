package client

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"SigLedger/internal/archive"
	"SigLedger/internal/ledger"
	"SigLedger/internal/sigcodec"
)

// checkCacheSize bounds the memoized entry cache.
const checkCacheSize = 4096

// Checker answers whether a sealed record attests that a signature
// passed verification. It is the only interface a third party needs
// to trust an aggregated outcome without re-verifying the signature
// itself.
type Checker struct {
	transport Transport                            // transport is the node connection
	cache     *lru.Cache[entryKey, sigcodec.Entry] // cache memoizes fetched entries
}

// entryKey identifies one entry of one record.
type entryKey struct {
	record ledger.Address
	index  uint32
}

// NewChecker creates a checker over a node connection.
func NewChecker(t Transport) *Checker {
	// The size is positive, so New cannot fail.
	cache, _ := lru.New[entryKey, sigcodec.Entry](checkCacheSize)

	return &Checker{
		transport: t,
		cache:     cache,
	}
}

// Verify reports whether entry index of a sealed record attests a
// passed check for exactly this public key and message digest.
// NotFinalized and IndexOutOfRange pass through to the caller.
func (c *Checker) Verify(ctx context.Context, record ledger.Address, index uint32, pubkey, digest [32]byte) (bool, error) {
	entry, err := c.entry(ctx, record, index)
	if err != nil {
		return false, err
	}

	return entryAttests(entry, pubkey, digest), nil
}

// entry fetches one record entry through the cache. Entries of sealed
// records never change, so a cached answer stays valid forever.
func (c *Checker) entry(ctx context.Context, record ledger.Address, index uint32) (sigcodec.Entry, error) {
	key := entryKey{record: record, index: index}

	if e, ok := c.cache.Get(key); ok {
		return e, nil
	}

	e, err := c.transport.GetEntry(ctx, record, index)
	if err != nil {
		return sigcodec.Entry{}, err
	}

	c.cache.Add(key, e)

	return e, nil
}

// VerifyExport answers the same question as Checker.Verify against a
// downloaded export, with no node round trip.
func VerifyExport(ex *archive.Export, index uint32, pubkey, digest [32]byte) (bool, error) {
	entry, err := ex.Entry(index)
	if err != nil {
		return false, err
	}

	return entryAttests(entry, pubkey, digest), nil
}

// entryAttests applies the consumer check: the facility passed the
// claim and the identity and digest match exactly.
func entryAttests(e sigcodec.Entry, pubkey, digest [32]byte) bool {
	return e.Passed && e.PublicKey == pubkey && e.MessageDigest == digest
}
