package auth

import "github.com/golang-jwt/jwt/v5"

// Role partitions the platform's users. Consumers request sessions, psychics
// accept them, admins see reporting.
type Role string

const (
	RoleUser    Role = "user"
	RolePsychic Role = "psychic"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RolePsychic, RoleAdmin:
		return true
	default:
		return false
	}
}

// Claims are the only supported JWT claims shape for this service. Tokens
// are issued by the identity service; this process only verifies them.
type Claims struct {
	jwt.RegisteredClaims

	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}
