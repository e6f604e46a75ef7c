package featurestore

import (
	"context"
	"errors"
	"net/url"
)

// Token is a short-lived bearer credential. It belongs to a single run.
type Token struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (t Token) String() string { return t.AccessToken }

// IssueToken exchanges the client id/secret for a token using the
// client-credentials grant.
func (c *Client) IssueToken(ctx context.Context) (Token, error) {
	form := url.Values{}
	form.Set("f", "json")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("grant_type", "client_credentials")
	form.Set("expiration", itoa(c.cfg.ExpirationMinutes))

	body, err := c.postForm(ctx, c.cfg.OAuth2URL, form)
	if err != nil {
		return Token{}, &AuthError{Err: err}
	}
	var resp struct {
		envelope
		Token
	}
	if err := decode(body, &resp); err != nil {
		return Token{}, &AuthError{Err: err}
	}
	if resp.Error != nil {
		return Token{}, &AuthError{Err: resp.Error}
	}
	if resp.AccessToken == "" {
		return Token{}, &AuthError{Err: errors.New("response carried no access_token")}
	}
	return resp.Token, nil
}
