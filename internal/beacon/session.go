package beacon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const loginQuery = `mutation Login($emailOrPhone: String!, $password: String!) {
  login(input: {emailOrPhone: $emailOrPhone, password: $password})
}
`

const profileQuery = `query GetMyData {
  me {
    id
    primaryProfileId
    __typename
  }
}
`

// Login authenticates with email/phone and password, keeps the session and
// CSRF cookies for later calls and resolves the primary profile id.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return errors.New("beacon: username and password are required")
	}
	res, err := c.call(ctx, "Login", map[string]any{"emailOrPhone": username, "password": password}, loginQuery, nil)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	var session, csrf string
	for _, ck := range res.Cookies() {
		switch ck.Name {
		case "sessionid":
			session = ck.Value
		case "csrftoken":
			csrf = ck.Value
		}
	}
	if session == "" {
		return errors.New("login failed: no session cookie in response")
	}
	parts := []string{"sessionid=" + session}
	if csrf != "" {
		parts = append(parts, "csrftoken="+csrf)
	}
	c.mu.Lock()
	c.cookie = strings.Join(parts, "; ")
	c.mu.Unlock()

	var data struct {
		Me struct {
			ID               string `json:"id"`
			PrimaryProfileID string `json:"primaryProfileId"`
		} `json:"me"`
	}
	if _, err := c.call(ctx, "GetMyData", nil, profileQuery, &data); err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	if data.Me.PrimaryProfileID == "" {
		return errors.New("load profile: no primary profile")
	}
	c.mu.Lock()
	c.profileID = data.Me.PrimaryProfileID
	c.mu.Unlock()

	c.log.Info("logged in", slog.String("user_id", data.Me.ID), slog.String("profile_id", data.Me.PrimaryProfileID))
	return nil
}
