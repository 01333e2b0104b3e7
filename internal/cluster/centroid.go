package cluster

import (
	"sort"
)

// UpdateCentroid folds one new embedding into a running average that has
// absorbed count embeddings so far: (old*count + new) / (count+1). An
// empty or mismatched centroid restarts from the new embedding.
func UpdateCentroid(centroid []float32, count int, embedding []float32) []float32 {
	if len(embedding) == 0 {
		return centroid
	}
	if count <= 0 || len(centroid) != len(embedding) {
		out := make([]float32, len(embedding))
		copy(out, embedding)
		return out
	}

	out := make([]float32, len(centroid))
	n := float64(count)
	for i := range centroid {
		out[i] = float32((float64(centroid[i])*n + float64(embedding[i])) / (n + 1))
	}
	return out
}

// MeanCentroid computes the exact mean over all embeddings, skipping
// entries whose dimension disagrees with the first valid one. Returns nil
// when nothing usable remains.
func MeanCentroid(embeddings [][]float32) []float32 {
	var sum []float64
	used := 0
	for _, embedding := range embeddings {
		if len(embedding) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(embedding))
		}
		if len(embedding) != len(sum) {
			continue
		}
		for i, component := range embedding {
			sum[i] += float64(component)
		}
		used++
	}
	if used == 0 {
		return nil
	}

	out := make([]float32, len(sum))
	for i := range sum {
		out[i] = float32(sum[i] / float64(used))
	}
	return out
}

// AddEntities increments the counter for every ID, allocating the map on
// first use.
func AddEntities(counter map[string]int, ids []string) map[string]int {
	if counter == nil {
		counter = make(map[string]int, len(ids))
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		counter[id]++
	}
	return counter
}

// CountEntities builds a counter from scratch over per-article ID lists.
func CountEntities(articleEntityIDs [][]string) map[string]int {
	counter := make(map[string]int)
	for _, ids := range articleEntityIDs {
		counter = AddEntities(counter, ids)
	}
	return counter
}

// TopEntityIDs projects the counter onto its top-N IDs, ordered by
// frequency descending with ties broken by ID ascending. The ordering is
// fully deterministic so projections compare equal across runs.
func TopEntityIDs(counter map[string]int, n int) []string {
	if n <= 0 || len(counter) == 0 {
		return []string{}
	}

	type entry struct {
		id    string
		count int
	}
	entries := make([]entry, 0, len(counter))
	for id, count := range counter {
		if id == "" || count <= 0 {
			continue
		}
		entries = append(entries, entry{id: id, count: count})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].id < entries[j].id
	})

	if len(entries) > n {
		entries = entries[:n]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.id
	}
	return out
}
