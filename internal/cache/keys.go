package cache

// Key families. A family is scoped by household id; variants (time windows)
// append further segments, so invalidating the family prefix covers them all.
const (
	FamilyTasks       = "tasks"
	FamilyPartners    = "partners"
	FamilyCompletions = "completions"
	FamilyPoints      = "points"
	FamilyFavorites   = "favorites"
)

// FamilyKey builds the invalidation prefix for a family within a household.
func FamilyKey(family, householdID string) string {
	return family + "/" + householdID
}

// Key builds a full cache key: family, household scope, then extra segments
// such as a window kind.
func Key(family, householdID string, extra ...string) string {
	key := FamilyKey(family, householdID)
	for _, part := range extra {
		key += "/" + part
	}
	return key
}
