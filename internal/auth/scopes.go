package auth

// Known OAuth scopes for the activities API.
const (
	ScopeActivitiesRead  = "activities:read"
	ScopeActivitiesWrite = "activities:write"
)
