package supabasetoolbox

import "fmt"

// HTTPError carries a non-2xx Supabase response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("supabase: status %d: %s", e.Status, e.Body)
}

// Session is the token pair returned by the auth endpoints.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}
