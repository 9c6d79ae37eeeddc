// Package query serves keyed values through a shared cache with
// stale-while-revalidate semantics.
//
// A Unit binds one key to a supplier. Fetch consults the client's cache:
// a fresh entry is adopted immediately, a stale one is adopted with
// IsStale set while a background fetch refreshes it, and a miss fetches
// through a retry controller. Each fetch lifecycle holds a cancellation
// token; starting a new fetch supersedes the previous one, whose result is
// then discarded.
//
// # Basic Usage
//
//	client := query.NewClient(query.DefaultConfig())
//	client.Start(ctx)
//	defer client.Stop()
//
//	opts := query.DefaultOptions("user:1")
//	user, err := query.New(client, opts, func(ctx context.Context) (User, error) {
//		return api.GetUser(ctx, 1)
//	})
//	if err != nil {
//		return err
//	}
//	defer user.Close()
//
//	<-user.Fetch(ctx, false)
//	if v, ok := user.Value(); ok {
//		fmt.Println(v.Name)
//	}
//
// # Sharing
//
// Units with the same key share the cache entry. Concurrent non-forced
// loads of a key are collapsed into one supplier call. Refetch always runs
// its own call.
//
// # Aggregates
//
// An Aggregate combines several Units:
//
//	agg := query.NewAggregate()
//	_ = agg.Add("user", user)
//	_ = agg.Add("stats", stats)
//	err := agg.RefetchAll(ctx)
//
// # Metrics
//
//   - query_fetches_total{outcome} - Fetch lifecycles (success, error, cancelled, superseded)
//   - query_fetch_duration_seconds - Lifecycle duration, retries included
//   - query_shared_loads_total - Fetches served by another Unit's load
//   - query_active_units - Open Units
package query
