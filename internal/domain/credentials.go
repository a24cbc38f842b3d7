package domain

import "strings"

// LoginRequest is the login form submission.
type LoginRequest struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

// Validate rejects submissions with a missing username or password.
func (r *LoginRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Username) == "" {
		missing = append(missing, "username")
	}
	if r.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return NewValidationError(CodeMissingCredentials, "Please enter both username and password",
			map[string]interface{}{"field": strings.Join(missing, ",")})
	}
	return nil
}

// EnterRequest carries the entry pass issued after a successful login.
type EnterRequest struct {
	Pass string `form:"pass" json:"pass" binding:"required"`
}
