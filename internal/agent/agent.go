// Package agent activates local machines and signs the tokens they attach to synced events
package agent

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// HeaderName is the message header carrying the agent token
const HeaderName = "x-agent-token"

const issuer = "siglus-localmachine"

var (
	ErrUnknownAgent     = errors.New("agent is not activated")
	ErrInvalidToken     = errors.New("invalid agent token")
	ErrAlreadyActivated = errors.New("machine is already activated")
)

type Store interface {
	FindAgent(ctx context.Context, machineID uuid.UUID) (models.AgentInfo, bool, error)
	SaveAgent(ctx context.Context, a models.AgentInfo) error
}

// Claims identifies the machine (subject) and the facility it serves
type Claims struct {
	FacilityID   string `json:"facility_id"`
	FacilityCode string `json:"facility_code"`
	jwt.RegisteredClaims
}

type Service struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, ttl time.Duration, logger *slog.Logger) *Service {
	return &Service{store: store, ttl: ttl, logger: logger, now: time.Now}
}

// Activate binds machineID to a facility and generates its signing key pair
func (s *Service) Activate(ctx context.Context, machineID, facilityID uuid.UUID, facilityCode, activationCode string) (models.AgentInfo, error) {
	if _, found, err := s.store.FindAgent(ctx, machineID); err != nil {
		return models.AgentInfo{}, fmt.Errorf("find agent %s: %w", machineID, err)
	} else if found {
		return models.AgentInfo{}, fmt.Errorf("%w: %s", ErrAlreadyActivated, machineID)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return models.AgentInfo{}, fmt.Errorf("generate key pair: %w", err)
	}
	info := models.AgentInfo{
		MachineID:      machineID,
		FacilityID:     facilityID,
		FacilityCode:   facilityCode,
		PublicKey:      base64.StdEncoding.EncodeToString(pub),
		PrivateKey:     base64.StdEncoding.EncodeToString(priv),
		ActivationCode: activationCode,
		ActivatedAt:    s.now().UTC(),
	}
	if err := s.store.SaveAgent(ctx, info); err != nil {
		return models.AgentInfo{}, fmt.Errorf("save agent %s: %w", machineID, err)
	}
	s.logger.Info("Local machine activated", "machine_id", machineID, "facility_id", facilityID, "facility_code", facilityCode)
	return info, nil
}

// IssueToken signs a short lived token for machineID with its private key
func (s *Service) IssueToken(ctx context.Context, machineID uuid.UUID) (string, error) {
	info, found, err := s.store.FindAgent(ctx, machineID)
	if err != nil {
		return "", fmt.Errorf("find agent %s: %w", machineID, err)
	}
	if !found {
		return "", fmt.Errorf("%w: %s", ErrUnknownAgent, machineID)
	}
	key, err := base64.StdEncoding.DecodeString(info.PrivateKey)
	if err != nil || len(key) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("agent %s has a corrupt private key", machineID)
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, Claims{
		FacilityID:   info.FacilityID.String(),
		FacilityCode: info.FacilityCode,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   machineID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(ed25519.PrivateKey(key))
}

// Verify checks the token against the public key of the machine named in its subject
func (s *Service) Verify(ctx context.Context, tokenString string) (models.AgentInfo, error) {
	var info models.AgentInfo
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		subject, err := token.Claims.GetSubject()
		if err != nil {
			return nil, err
		}
		machineID, err := uuid.Parse(subject)
		if err != nil {
			return nil, err
		}
		found := false
		info, found, err = s.store.FindAgent(ctx, machineID)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrUnknownAgent
		}
		pub, err := base64.StdEncoding.DecodeString(info.PublicKey)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return nil, jwt.ErrTokenUnverifiable
		}
		return ed25519.PublicKey(pub), nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, ErrUnknownAgent) {
			return models.AgentInfo{}, err
		}
		return models.AgentInfo{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return models.AgentInfo{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.FacilityID != info.FacilityID.String() {
		return models.AgentInfo{}, fmt.Errorf("%w: facility claim does not match agent", ErrInvalidToken)
	}
	return info, nil
}
