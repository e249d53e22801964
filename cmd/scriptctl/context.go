package main

import (
	"errors"
	"script-desk/internal/auth"
	"script-desk/internal/config"
	"script-desk/internal/domain"
	"script-desk/internal/editsession"
	"script-desk/internal/logger"
	"script-desk/internal/scriptclient"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type commandContext struct {
	cfg config.ClientConfig

	apiURL  string
	token   string
	storyID uint64
	pieceID uint64
	verbose bool
	reclaim bool
}

func newCommandContext() *commandContext {
	return &commandContext{cfg: config.LoadClientConfig()}
}

func (c *commandContext) scope() (domain.Scope, error) {
	switch {
	case c.storyID != 0 && c.pieceID != 0:
		return domain.Scope{}, errors.New("use either --story or --piece, not both")
	case c.storyID != 0:
		return domain.StoryScope(c.storyID), nil
	case c.pieceID != 0:
		return domain.PieceScope(c.pieceID), nil
	}
	return domain.Scope{}, errors.New("one of --story or --piece is required")
}

func (c *commandContext) client() *scriptclient.Client {
	return scriptclient.New(c.apiURL, c.token)
}

// user reads the subject from the token. The server verifies it; the
// client only needs to know who it is to recognise its own lease.
func (c *commandContext) user() (string, error) {
	if c.token == "" {
		return "", errors.New("no token: pass --token or set SCRIPT_API_TOKEN")
	}
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(c.token, &claims); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func (c *commandContext) sessionOptions() (editsession.Options, error) {
	opts := editsession.Options{
		AutosaveInterval: c.cfg.AutosaveInterval,
		Logger:           zap.NewNop(),
	}
	if c.verbose {
		zl, err := logger.New("development", "debug")
		if err != nil {
			return opts, err
		}
		opts.Logger = zl
	}
	return opts, nil
}
