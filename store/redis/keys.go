package redis

// All keys are prefixed with "herald:" to avoid collisions.
const keyPrefix = "herald:"

// jobKey returns the Hash key for a job: herald:job:{id}
func jobKey(id string) string { return jobKeyPrefix + id }

const jobKeyPrefix = keyPrefix + "job:"

// waitingKey returns the Sorted Set of waiting jobs of one type, scored by
// run_at in unix milliseconds: herald:waiting:{type}
func waitingKey(jobType string) string { return keyPrefix + "waiting:" + jobType }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// jobTypesKey is the Set of every job type ever enqueued.
const jobTypesKey = keyPrefix + "job_types"

// activeKey is the Set of job IDs currently claimed by a worker.
const activeKey = keyPrefix + "active"

// finishedKey is the Sorted Set of terminal job IDs scored by finished_at.
const finishedKey = keyPrefix + "finished"

// dlqKey returns the Hash key for a DLQ entry: herald:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIndexKey is the Sorted Set of DLQ entry IDs scored by failed_at.
const dlqIndexKey = keyPrefix + "dlq_index"

// balanceKey returns the Hash key for a balance: herald:balance:{user}:{channel}
func balanceKey(userID, channel string) string {
	return keyPrefix + "balance:" + userID + ":" + channel
}
