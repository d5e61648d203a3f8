package push

import (
	"sort"
	"time"

	"plantcare-engine/pkg/types"
)

// timedRequest is a request with its lead-time and quiet-hours adjusted fire time
type timedRequest struct {
	types.NotificationBatchRequest
	NotifyAt time.Time
	loc      *time.Location // user's zone for calendar-day bucketing
}

// candidate is a batch before dedup and finalization
type candidate struct {
	batchType types.BatchType
	members   []timedRequest
}

// bucketFunc returns the bucket key for a request, or false to leave it out
type bucketFunc func(r timedRequest) (string, bool)

var strategies = map[types.BatchType]bucketFunc{
	types.BatchDaily: func(r timedRequest) (string, bool) {
		loc := r.loc
		if loc == nil {
			loc = time.UTC
		}
		return r.NotifyAt.In(loc).Format("2006-01-02"), true
	},
	types.BatchPlantGrouped: func(r timedRequest) (string, bool) {
		return r.PlantID, true
	},
	types.BatchPriorityGrouped: func(r timedRequest) (string, bool) {
		if !r.Priority.AtLeast(types.PriorityHigh) {
			return "", false
		}
		return string(r.Priority), true
	},
}

// minBucketSize per strategy; plant-grouped batches need at least two requests
var minBucketSize = map[types.BatchType]int{
	types.BatchPlantGrouped: 2,
}

// buildCandidates applies each strategy in order to the full snapshot. Buckets
// are split by user and chunked to maxSize. Requests no strategy claimed are
// bucketed daily at the end so every request lands in some candidate.
func buildCandidates(snapshot []timedRequest, order []types.BatchType, maxSize int) []candidate {
	var out []candidate
	claimed := make(map[string]bool, len(snapshot))

	for _, batchType := range order {
		bucket, ok := strategies[batchType]
		if !ok {
			continue
		}
		for _, c := range group(snapshot, batchType, bucket, maxSize) {
			for _, m := range c.members {
				claimed[m.TaskID] = true
			}
			out = append(out, c)
		}
	}

	var leftover []timedRequest
	for _, r := range snapshot {
		if !claimed[r.TaskID] {
			leftover = append(leftover, r)
		}
	}
	if len(leftover) > 0 {
		out = append(out, group(leftover, types.BatchDaily, strategies[types.BatchDaily], maxSize)...)
	}
	return out
}

type bucketKey struct {
	userID string
	key    string
}

func group(snapshot []timedRequest, batchType types.BatchType, bucket bucketFunc, maxSize int) []candidate {
	buckets := make(map[bucketKey][]timedRequest)
	var keys []bucketKey
	for _, r := range snapshot {
		k, ok := bucket(r)
		if !ok {
			continue
		}
		bk := bucketKey{userID: r.UserID, key: k}
		if _, seen := buckets[bk]; !seen {
			keys = append(keys, bk)
		}
		buckets[bk] = append(buckets[bk], r)
	}

	var out []candidate
	for _, k := range keys {
		members := buckets[k]
		if len(members) < minBucketSize[batchType] {
			continue
		}
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].NotifyAt.Before(members[j].NotifyAt)
		})
		for start := 0; start < len(members); start += maxSize {
			end := start + maxSize
			if end > len(members) {
				end = len(members)
			}
			out = append(out, candidate{
				batchType: batchType,
				members:   append([]timedRequest(nil), members[start:end]...),
			})
		}
	}
	return out
}

// dedup keeps each task in the first candidate that holds it and drops empty candidates
func dedup(candidates []candidate) []candidate {
	seen := make(map[string]bool)
	out := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		kept := c.members[:0:0]
		for _, m := range c.members {
			if seen[m.TaskID] {
				continue
			}
			seen[m.TaskID] = true
			kept = append(kept, m)
		}
		if len(kept) == 0 {
			continue
		}
		out = append(out, candidate{batchType: c.batchType, members: kept})
	}
	return out
}

// finalize turns a candidate into a batch: earliest fire time, highest priority
func finalize(id string, c candidate) types.NotificationBatch {
	batch := types.NotificationBatch{
		ID:        id,
		UserID:    c.members[0].UserID,
		BatchType: c.batchType,
		Priority:  types.PriorityLow,
	}
	var earliest time.Time
	for i, m := range c.members {
		batch.Notifications = append(batch.Notifications, m.NotificationBatchRequest)
		batch.Priority = types.MaxPriority(batch.Priority, m.Priority)
		if i == 0 || m.NotifyAt.Before(earliest) {
			earliest = m.NotifyAt
		}
	}
	batch.ScheduledTime = earliest
	return batch
}
