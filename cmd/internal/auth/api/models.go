package authapi

type loginRequest struct {
	Email    string `json:"email"    validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,max=1024"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type logoutAllResponse struct {
	RevokedSessions int64 `json:"revoked_sessions"`
}

type meResponse struct {
	SubjectID    string   `json:"subject_id"`
	TokenVersion int64    `json:"token_version"`
	Roles        []string `json:"roles"`
	Permissions  []string `json:"permissions"`
}
