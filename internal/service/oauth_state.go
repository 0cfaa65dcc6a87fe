package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/store"
	"github.com/hwalton/brickstock/pkg/ebay"
)

// ErrInvalidState means an OAuth callback state is unknown, used or expired.
var ErrInvalidState = errors.New("invalid or expired oauth state")

// ErrStateOwnerMismatch means an OAuth state was issued to a different user
// than the one completing the callback.
var ErrStateOwnerMismatch = errors.New("oauth state belongs to another user")

// ErrInvalidCredentials means submitted credentials lack a required field.
var ErrInvalidCredentials = errors.New("invalid credentials")

const oauthStateTTL = 10 * time.Minute

type OAuthStateStore interface {
	CreateOAuthState(ctx context.Context, state, ownerID string, ttl time.Duration) error
	ConsumeOAuthState(ctx context.Context, state string) (string, bool, error)
}

type ConnectionStore interface {
	CredentialStore
	ListConnections(ctx context.Context, ownerID string) ([]store.Connection, error)
	DeleteCredentials(ctx context.Context, ownerID string, platform domain.Platform) error
}

// ConnectService manages platform connections: the eBay consent flow and
// API-key credentials for the other platforms.
type ConnectService struct {
	states OAuthStateStore
	conns  ConnectionStore
	ebay   *ebay.Client
	logger *zap.Logger
}

func NewConnectService(states OAuthStateStore, conns ConnectionStore, ebayClient *ebay.Client, logger *zap.Logger) *ConnectService {
	return &ConnectService{states: states, conns: conns, ebay: ebayClient, logger: logger.Named("connect")}
}

// BeginEbay records a one-time state for ownerID and returns the consent URL.
func (s *ConnectService) BeginEbay(ctx context.Context, ownerID string) (string, error) {
	if s.ebay == nil || !s.ebay.Configured() {
		return "", fmt.Errorf("ebay: %w", ErrUnsupported)
	}
	state := uuid.NewString()
	if err := s.states.CreateOAuthState(ctx, state, ownerID, oauthStateTTL); err != nil {
		return "", err
	}
	return s.ebay.AuthURL(state), nil
}

// CompleteEbay consumes state, checks it was issued to ownerID, then exchanges
// code and stores the tokens. A foreign state is burned without touching
// eBay or the credential store.
func (s *ConnectService) CompleteEbay(ctx context.Context, ownerID, state, code string) error {
	if state == "" || code == "" {
		return ErrInvalidState
	}
	stateOwner, ok, err := s.states.ConsumeOAuthState(ctx, state)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidState
	}
	if stateOwner != ownerID {
		s.logger.Warn("ebay callback with foreign state",
			zap.String("owner_id", ownerID), zap.String("state_owner_id", stateOwner))
		return ErrStateOwnerMismatch
	}
	tok, err := s.ebay.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange ebay code: %w", err)
	}
	err = s.conns.SaveCredentials(ctx, ownerID, domain.PlatformEbay, store.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	})
	if err != nil {
		return err
	}
	s.logger.Info("ebay connected", zap.String("owner_id", ownerID))
	return nil
}

// SaveCredentials stores credentials entered by the owner after checking the
// fields the platform needs.
func (s *ConnectService) SaveCredentials(ctx context.Context, ownerID string, p domain.Platform, c store.Credentials) error {
	if err := checkCredentials(p, c); err != nil {
		return err
	}
	return s.conns.SaveCredentials(ctx, ownerID, p, c)
}

func checkCredentials(p domain.Platform, c store.Credentials) error {
	var missing string
	switch p {
	case domain.PlatformEbay:
		return fmt.Errorf("%w: ebay connects through /api/ebay/connect", ErrInvalidCredentials)
	case domain.PlatformAmazon:
		if c.RefreshToken == "" {
			missing = "refresh_token"
		}
	case domain.PlatformBrickLink:
		switch {
		case c.ConsumerKey == "":
			missing = "consumer_key"
		case c.ConsumerSecret == "":
			missing = "consumer_secret"
		case c.Token == "":
			missing = "token"
		case c.TokenSecret == "":
			missing = "token_secret"
		}
	case domain.PlatformBrickOwl:
		if c.APIKey == "" {
			missing = "api_key"
		}
	case domain.PlatformBricqer:
		if c.APIKey == "" {
			missing = "api_key"
		} else if c.BaseURL == "" {
			missing = "base_url"
		}
	case domain.PlatformVinted:
		return fmt.Errorf("%w: vinted sales are imported from CSV", ErrInvalidCredentials)
	}
	if missing != "" {
		return fmt.Errorf("%w: %s %s is required", ErrInvalidCredentials, p, missing)
	}
	return nil
}

func (s *ConnectService) Connections(ctx context.Context, ownerID string) ([]store.Connection, error) {
	return s.conns.ListConnections(ctx, ownerID)
}

func (s *ConnectService) Disconnect(ctx context.Context, ownerID string, p domain.Platform) error {
	if err := s.conns.DeleteCredentials(ctx, ownerID, p); err != nil {
		return err
	}
	s.logger.Info("platform disconnected", zap.String("owner_id", ownerID), zap.String("platform", string(p)))
	return nil
}
