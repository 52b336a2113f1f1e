package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/tilechat/internal/chat"
	"github.com/matheus3301/tilechat/internal/httpclient"
)

const (
	loginPath    = "/api/auth/login/"
	userInfoPath = "/api/auth/user/"
)

// ErrNoToken is returned when the backend accepts a login but sends no token.
var ErrNoToken = errors.New("login failed: no token received")

// Authenticator runs login, verification and logout against the backend.
type Authenticator struct {
	http   *httpclient.Client
	creds  *Store
	logger *zap.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(client *httpclient.Client, creds *Store, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{http: client, creds: creds, logger: logger}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string    `json:"token"`
	User  chat.User `json:"user"`
}

// Login exchanges username and password for a token and stores it.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*chat.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("login: username and password are required")
	}

	var res loginResponse
	if err := a.http.Post(ctx, loginPath, loginRequest{Username: username, Password: password}, "", &res); err != nil {
		a.logger.Warn("login failed", zap.String("username", username), zap.Error(err))
		return nil, fmt.Errorf("login: %w", err)
	}
	if strings.TrimSpace(res.Token) == "" {
		return nil, ErrNoToken
	}
	if err := a.creds.Save(res.Token, res.User); err != nil {
		return nil, err
	}

	a.logger.Info("logged in", zap.String("username", res.User.Username), zap.Int64("user_id", res.User.ID))
	return &res.User, nil
}

// Verify validates the persisted token by fetching the user. Any failure
// clears all stored auth data.
func (a *Authenticator) Verify(ctx context.Context) (*chat.User, error) {
	token := a.creds.StoredToken()
	if token == "" {
		return nil, ErrNoCredentials
	}

	var user chat.User
	if err := a.http.Get(ctx, userInfoPath, token, &user); err != nil {
		a.logger.Warn("stored token rejected, clearing credentials", zap.Error(err))
		if cerr := a.creds.Clear(); cerr != nil {
			a.logger.Error("clear credentials", zap.Error(cerr))
		}
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if err := a.creds.Resume(user); err != nil {
		return nil, err
	}

	a.logger.Info("session resumed", zap.String("username", user.Username), zap.Int64("user_id", user.ID))
	return &user, nil
}

// Logout clears all auth data.
func (a *Authenticator) Logout() error {
	if err := a.creds.Clear(); err != nil {
		return err
	}
	a.logger.Info("logged out")
	return nil
}
