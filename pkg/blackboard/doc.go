// Package blackboard is flock's shared state in Redis.
//
// # Overview
//
// Every flock process (CLI invocations, the HTTP server, long-running watch
// sessions) coordinates through the same Redis instance. The blackboard holds
// the state that must outlive a single request: the migration batch lock and
// its controlling session, the stop-requested flag, in-flight batches and the
// per-migration completeness metadata.
//
// # Core Concepts
//
// Durable values are plain strings under a name (Get, Set, Delete). The batch
// coordinator keeps the controlling session and the stop flag here.
//
// Locks are TTL-bound keys holding an owner token (Acquire, Renew, Release,
// LockMayBeAvailable). A lock that is not renewed expires by itself; expiry is
// noticed by the next caller that looks, nothing reaps it actively.
//
// Batches are Redis hashes describing a list of operations and how far a
// poll-driven executor has got through them. They expire BatchRetention after
// their last write, after which polling reports them as unknown.
//
// Migration metadata records completeness and the source fingerprint used to
// skip refreshes when nothing changed.
//
// # Multi-Instance Support
//
// All Redis keys and Pub/Sub channels are namespaced by instance name, so
// several flock instances can share one Redis server.
//
// # Usage Example
//
//	client, err := blackboard.NewClient(&redis.Options{Addr: "localhost:6379"}, "default")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	ok, err := client.Acquire(ctx, "migration_batch", sessionID, 30*time.Second)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if !ok {
//		// somebody else is running a batch
//	}
//
// # Redis Schema
//
//	flock:{instance}:state:{name}          STRING  durable values
//	flock:{instance}:lock:{name}           STRING  lock owner, with PX TTL
//	flock:{instance}:batch:{batch_id}      HASH    batch state
//	flock:{instance}:batches               ZSET    batch IDs scored by creation time
//	flock:{instance}:migration:{id}        HASH    migration metadata
//	flock:{instance}:batch_events          PUBSUB  BatchEvent JSON
package blackboard
