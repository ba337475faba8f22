package trustledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jmerrifield20/AuditVault/internal/trustledger"
)

var ctx = context.Background()

const (
	hashA = "d171f4834444358b1cba27ad2559e8eca3011c7a752f99241a9cd2673d03ad35"
	hashB = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
)

func TestNew_genesisEntry(t *testing.T) {
	l := trustledger.New()

	n, err := l.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 genesis entry, got %d", n)
	}

	entry, err := l.Get(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Submitter != "fabric-system" {
		t.Errorf("expected genesis submitter 'fabric-system', got %q", entry.Submitter)
	}
	if entry.Hash != trustledger.GenesisHash {
		t.Errorf("genesis hash: got %q, want GenesisHash", entry.Hash)
	}
}

func TestAppend_chainsCorrectly(t *testing.T) {
	l := trustledger.New()

	e1, err := l.Append(ctx, hashA, "auditvault")
	if err != nil {
		t.Fatal(err)
	}
	e2, err := l.Append(ctx, hashB, "auditvault")
	if err != nil {
		t.Fatal(err)
	}

	if e2.PrevHash != e1.Hash {
		t.Errorf("chain broken: e2.PrevHash=%q, want e1.Hash=%q", e2.PrevHash, e1.Hash)
	}
	if e1.ContentHash != hashA {
		t.Errorf("content hash: got %q, want %q", e1.ContentHash, hashA)
	}

	n, err := l.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 { // genesis + 2
		t.Errorf("expected 3 entries, got %d", n)
	}
}

func TestAppend_sameHashGetsDistinctTxIDs(t *testing.T) {
	l := trustledger.New()
	e1, _ := l.Append(ctx, hashA, "auditvault")
	e2, _ := l.Append(ctx, hashA, "auditvault")
	if e1.TxID() == e2.TxID() {
		t.Error("expected distinct transaction IDs for repeated submissions")
	}
}

func TestAppend_rejectsMalformedHash(t *testing.T) {
	l := trustledger.New()
	for _, h := range []string{"", "abc", "D171F4834444358B1CBA27AD2559E8ECA3011C7A752F99241A9CD2673D03AD35"} {
		if _, err := l.Append(ctx, h, "auditvault"); !errors.Is(err, trustledger.ErrInvalidHash) {
			t.Errorf("Append(%q): expected ErrInvalidHash, got %v", h, err)
		}
	}
	if n, _ := l.Len(ctx); n != 1 {
		t.Errorf("rejected appends must not grow the chain, len=%d", n)
	}
}

func TestAppend_cancelledContext(t *testing.T) {
	l := trustledger.New()
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := l.Append(cctx, hashA, "auditvault"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestGetByTxID(t *testing.T) {
	l := trustledger.New()
	e, _ := l.Append(ctx, hashA, "auditvault")

	got, err := l.GetByTxID(ctx, e.TxID())
	if err != nil {
		t.Fatal(err)
	}
	if got.Index != e.Index || got.ContentHash != hashA {
		t.Errorf("GetByTxID: got %+v, want %+v", got, e)
	}

	if _, err := l.GetByTxID(ctx, hashB); !errors.Is(err, trustledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown tx, got %v", err)
	}
}

func TestVerify_valid(t *testing.T) {
	l := trustledger.New()
	_, _ = l.Append(ctx, hashA, "auditvault")
	_, _ = l.Append(ctx, hashB, "auditvault")

	if err := l.Verify(ctx); err != nil {
		t.Errorf("Verify() failed on valid chain: %v", err)
	}
}

func TestRoot_returnsLastHash(t *testing.T) {
	l := trustledger.New()
	e, _ := l.Append(ctx, hashA, "auditvault")

	root, err := l.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root != e.Hash {
		t.Errorf("Root(): got %q, want %q", root, e.Hash)
	}
}

func TestGet_outOfRange(t *testing.T) {
	l := trustledger.New()
	for _, idx := range []int{-1, 1, 99} {
		if _, err := l.Get(ctx, idx); !errors.Is(err, trustledger.ErrNotFound) {
			t.Errorf("Get(%d): expected ErrNotFound, got %v", idx, err)
		}
	}
}

func TestGet_returnsCopy(t *testing.T) {
	l := trustledger.New()
	e, _ := l.Append(ctx, hashA, "auditvault")
	e.ContentHash = hashB

	got, _ := l.Get(ctx, e.Index)
	if got.ContentHash != hashA {
		t.Error("mutating a returned entry must not affect the ledger")
	}
	if err := l.Verify(ctx); err != nil {
		t.Errorf("Verify() after caller mutation: %v", err)
	}
}

func TestAppend_concurrent(t *testing.T) {
	l := trustledger.New()
	const workers = 32

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Append(ctx, hashA, "auditvault"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if n, _ := l.Len(ctx); n != workers+1 {
		t.Errorf("expected %d entries, got %d", workers+1, n)
	}
	if err := l.Verify(ctx); err != nil {
		t.Errorf("Verify() after concurrent appends: %v", err)
	}
}
