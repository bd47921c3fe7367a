package google

// DefaultOAuthScopes are the Google OAuth scopes required for calendar
// synchronization.
//
// The scopes provide access to:
//   - Google Calendar: full access (events are created, updated and deleted)
//   - User info: the email address identifying the connected account
var DefaultOAuthScopes = []string{
	// OpenID Connect scopes (required for user info)
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",

	// Google Calendar scope
	"https://www.googleapis.com/auth/calendar",
}
