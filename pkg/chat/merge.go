package chat

// MergeMessages combines an update into an existing message list.
// Updates whose ID matches an existing message replace it in place;
// everything else is appended in input order. Neither input is
// mutated. A duplicate ID within the update itself resolves to the
// last occurrence.
func MergeMessages(existing, update []Message) []Message {
	merged := make([]Message, len(existing), len(existing)+len(update))
	copy(merged, existing)

	index := make(map[string]int, len(merged))
	for i, m := range merged {
		if m.ID != "" {
			index[m.ID] = i
		}
	}

	for _, m := range update {
		if m.ID != "" {
			if i, ok := index[m.ID]; ok {
				merged[i] = m
				continue
			}
			index[m.ID] = len(merged)
		}
		merged = append(merged, m)
	}

	return merged
}
