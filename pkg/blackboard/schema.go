package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so that
// several flock instances can share one Redis server.
//
// Key pattern: flock:{instance_name}:{entity}:{id}
// Channel pattern: flock:{instance_name}:{event_type}_events

// StateKey returns the Redis key for a named durable value.
// Pattern: flock:{instance_name}:state:{name}
func StateKey(instanceName, name string) string {
	return fmt.Sprintf("flock:%s:state:%s", instanceName, name)
}

// LockKey returns the Redis key for a named lock.
// Pattern: flock:{instance_name}:lock:{name}
func LockKey(instanceName, name string) string {
	return fmt.Sprintf("flock:%s:lock:%s", instanceName, name)
}

// BatchKey returns the Redis key for a batch hash.
// Pattern: flock:{instance_name}:batch:{batch_id}
func BatchKey(instanceName, batchID string) string {
	return fmt.Sprintf("flock:%s:batch:%s", instanceName, batchID)
}

// BatchHistoryKey returns the Redis key for the ZSET of batch IDs scored by
// creation time.
// Pattern: flock:{instance_name}:batches
func BatchHistoryKey(instanceName string) string {
	return fmt.Sprintf("flock:%s:batches", instanceName)
}

// MigrationKey returns the Redis key for a migration metadata hash.
// Pattern: flock:{instance_name}:migration:{migration_id}
func MigrationKey(instanceName, migrationID string) string {
	return fmt.Sprintf("flock:%s:migration:%s", instanceName, migrationID)
}

// BatchEventsChannel returns the Pub/Sub channel name for batch events.
// Pattern: flock:{instance_name}:batch_events
func BatchEventsChannel(instanceName string) string {
	return fmt.Sprintf("flock:%s:batch_events", instanceName)
}
