package catalog

import "time"

// Permission represents an atomic named capability of the form
// "resource.action".
type Permission struct {
	ID          int64
	Name        string
	Resource    string
	Action      string
	Description string
	CreatedAt   time.Time
}
