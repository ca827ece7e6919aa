package model

// Navigation screens
const (
	ScreenActiveJobs = "active_jobs"
	ScreenChat       = "chat"
	ScreenProfile    = "profile"
)

// NavigationTarget is an in-app destination resolved from a notification.
type NavigationTarget struct {
	Screen string            `json:"screen"`
	Params map[string]string `json:"params,omitempty"`
}
