package services

import "github.com/CyberwizD/follow-notifier/internal/models"

// DiffFollowers returns the IDs present in current but not in previous.
// Both inputs are treated as sets; the result keeps the first-seen order of
// current and never contains duplicates or empty IDs.
func DiffFollowers(previous, current []string) []string {
	if len(current) == 0 {
		return nil
	}
	known := make(map[string]struct{}, len(previous)+len(current))
	for _, id := range previous {
		known[id] = struct{}{}
	}

	var added []string
	for _, id := range current {
		if id == "" {
			continue
		}
		if _, ok := known[id]; ok {
			continue
		}
		known[id] = struct{}{}
		added = append(added, id)
	}
	return added
}

// ComputeDelta derives the follower delta of one record. Without a previous
// snapshot nothing can be called new, so the delta is empty.
func ComputeDelta(userID string, previous, current *models.UserRecord) models.FollowerDelta {
	delta := models.FollowerDelta{UserID: userID}
	if previous == nil || current == nil {
		return delta
	}
	delta.AddedFollowerIDs = DiffFollowers(previous.Followers, current.Followers)
	return delta
}
