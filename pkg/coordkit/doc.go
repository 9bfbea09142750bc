// Package coordkit wires the coordination primitives for one state root.
//
// A Client owns one lock manager, one shared map store, one TTL cache and one
// metrics registry. Nothing is process-global: two clients opened on the same
// root coordinate only through the files under its state directory, exactly
// as two processes would.
//
// # Concurrency Safety
//
//   - Locks() and Maps() are safe across goroutines and across processes
//     sharing a state directory. Mutual exclusion holds for as long as a lock
//     holder finishes within its TTL; after that the lock may be reclaimed.
//
//   - Cache() is per client and is never shared between processes.
//
//   - Waiters on a lock are not queued. Whichever poll lands first after a
//     release wins.
//
// # Recommended Usage Pattern
//
//	client, err := coordkit.Open(root)
//	if err != nil {
//	    return err
//	}
//	plans := sharedmap.Open[string](client.Maps(), "plans")
//	id, _, err := plans.GetOrCreate(ctx, runID, func(ctx context.Context) (string, error) {
//	    return createRemotePlan(ctx)
//	})
//
//	// Poll a remote job with the configured retry defaults
//	status, err := retry.Do(fetchStatus).
//	    WithDefaults(client.RetryDefaults()).
//	    Until(func(s string) bool { return s == "done" }).
//	    Run(ctx)
package coordkit
