// Package precache implements the bulk add used at install time: every
// manifest entry is fetched in parallel and the whole batch is committed to
// a partition in one atomic write, or nothing is written at all.
//
// Example usage:
//
//	reqs, err := precache.Requests(scope, []string{"/", "/offline.html"})
//	fetcher := precache.NewBatchFetcher(httpFetcher, precache.DefaultConfig())
//	err = fetcher.AddAll(ctx, partition, reqs)
//
// The batch fetcher:
//   - Rejects duplicate requests before touching the network
//   - Spawns a bounded worker pool (default 4 workers)
//   - Requires every response to be ok (2xx and not opaque)
//   - Cancels outstanding fetches on the first failure
//   - Commits with Partition.PutAll so a failed install leaves no entries
package precache
