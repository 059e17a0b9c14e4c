package model

// LoginRequest is forwarded as-is to POST /auth/login on the backend.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=1,max=128"`
}

// User is the account summary returned with a login.
type User struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// LoginResult is the backend's login response.
type LoginResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
