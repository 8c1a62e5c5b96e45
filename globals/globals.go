package globals

import (
	"context"
)

var (
	// JwtSecret is replaced by Config.JWTSecret at startup.
	JwtSecret = []byte("your_secret_key")
)

// Context keys
type ContextKey string

const RoleKey ContextKey = "role"
const UserIDKey ContextKey = "userId"
const EmailKey ContextKey = "email"

var Ctx = context.Background()
