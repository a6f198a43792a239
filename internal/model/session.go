package model

// Tokens is the app token set issued for the user's database.
type Tokens struct {
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
	UserID        string `json:"user_id"`
	Email         string `json:"email,omitempty"`
	Username      string `json:"username,omitempty"`
	ApplicationID string `json:"application_id,omitempty"`
}

// DatabaseConfig locates the user's own database.
type DatabaseConfig struct {
	SupabaseURL string `json:"supabaseUrl"`
	AnonKey     string `json:"anonKey"`
}

// Session is a loaded, usable sign-in.
type Session struct {
	Tokens
	Database DatabaseConfig
}
