package redis

// Redis key naming conventions for recq data.
// All keys are prefixed with "recq:" to avoid collisions.

const keyPrefix = "recq:"

// jobKey returns the key for a job record: recq:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// dispatchKey is the Sorted Set indexing claimable jobs in dispatch
// order. Scores encode priority then schedule time; members are job IDs.
const dispatchKey = keyPrefix + "dispatch"
