package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

// GoogleProvider runs the OAuth 2.0 authorization code flow that links a
// scheduler account to the user's Google Calendar.
//
// Only the calendar events scope is requested; sign-in itself stays on
// email and password. Offline access is requested so the stored token carries
// a refresh token and sync keeps working after the access token expires.
type GoogleProvider struct {
	config *oauth2.Config
}

// NewGoogleProvider builds a provider. callbackURL must match an authorized
// redirect URI of the Google OAuth client exactly.
func NewGoogleProvider(clientID, clientSecret, callbackURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{calendar.CalendarEventsScope},
			Endpoint:     google.Endpoint,
		},
	}
}

// Config exposes the oauth2 configuration the calendar syncer needs to turn
// a stored token into an authenticated (and self-refreshing) HTTP client.
func (p *GoogleProvider) Config() *oauth2.Config {
	return p.config
}

// AuthURL is where the user is redirected to grant access. state must be
// echoed back on the callback and compared against the cookie set here.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades the callback code for a token.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, errors.New("auth: missing OAuth code")
	}
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}
	return token, nil
}

// EncodeToken serializes a token for the users.google_token column.
func EncodeToken(token *oauth2.Token) ([]byte, error) {
	if token == nil {
		return nil, errors.New("auth: nil token")
	}
	return json.Marshal(token)
}

// DecodeToken is the inverse of EncodeToken.
func DecodeToken(raw []byte) (*oauth2.Token, error) {
	if len(raw) == 0 {
		return nil, errors.New("auth: no stored token")
	}
	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("auth: decoding stored token: %w", err)
	}
	return &token, nil
}
