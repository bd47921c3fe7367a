// Package google provides OAuth2 authentication and token management for
// the Google Calendar API.
//
// Tokens are stored per connected account in the user cache directory. The
// TokenProvider interface allows other token sources to be plugged in
// without touching the calendar client.
package google
