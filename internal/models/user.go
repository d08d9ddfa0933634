package models

// Roles a user can hold. Ownership of chat lines is decided by role.
const (
	RoleClient  = "cliente"
	RoleCourier = "entregador"
	RoleAdmin   = "admin"
)

// User is the profile blob the backend returns at login.
type User struct {
	ID    FlexID `json:"id"`
	Name  string `json:"nome"`
	Email string `json:"email,omitempty"`
	Role  string `json:"tipo"`
}

// Notification is one entry of the user's notification feed.
type Notification struct {
	ID      FlexID `json:"id"`
	Message string `json:"mensagem"`
	Read    bool   `json:"lida"`
}
