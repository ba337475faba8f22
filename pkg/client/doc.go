// Package client is the AuditVault Go SDK.
//
// It submits audit events for anchoring and reads back stored records and
// their verification status.
//
// # Anchoring an event
//
//	c, err := client.New("http://localhost:8000")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := c.Anchor(ctx, map[string]any{
//	    "user":   "alice",
//	    "action": "login",
//	    "ts":     1690000000,
//	})
//	fmt.Println(res.EventID, res.Hash, res.FabricTxID)
//
// Use AnchorJSON to send an event exactly as encoded, e.g. to keep number
// literals such as 1.50 untouched in the stored record.
//
// # Failures
//
// Server responses are returned as *APIError. Match them with errors.Is:
//
//	switch {
//	case errors.Is(err, client.ErrLedgerUnavailable):
//	    // transient; retry after apiErr.RetryAfter
//	case errors.Is(err, client.ErrNotPersisted):
//	    // the ledger holds apiErr.Hash under apiErr.FabricTxID but the
//	    // vault did not store it; reconcile, do not resubmit
//	}
//
// # Verification
//
//	v, err := c.Verify(ctx, res.EventID)
//	if !v.Valid {
//	    // the stored event no longer matches its anchored hash
//	}
//
// Stored records never change, so WithCacheTTL may be used to cache Get
// results.
package client
