package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const gmailScope = "https://mail.google.com/"

// XOAuth2 implements the SASL XOAUTH2 mechanism used by Gmail
type XOAuth2 struct {
	username string
	tokens   oauth2.TokenSource
}

var _ smtp.Auth = XOAuth2{}

func NewXOAuth2(username string, tokens oauth2.TokenSource) XOAuth2 {
	return XOAuth2{username, tokens}
}

// NewGmailTokenSource exchanges a previously authorized refresh token for access tokens as needed
func NewGmailTokenSource(ctx context.Context, clientID, clientSecret, refreshToken string) oauth2.TokenSource {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailScope},
	}

	return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
}

func (a XOAuth2) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, errors.New("xoauth2 requires an encrypted connection")
	}

	token, err := a.tokens.Token()
	if err != nil {
		return "", nil, fmt.Errorf("failed to get access token: %w", err)
	}

	return "XOAUTH2", []byte("user=" + a.username + "\x01auth=Bearer " + token.AccessToken + "\x01\x01"), nil
}

// Next answers the server's error challenge with an empty response so it reports the failure
func (a XOAuth2) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		return []byte{}, nil
	}

	return nil, nil
}
