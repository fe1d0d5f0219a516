// Package household is the join/create boundary. Creating and joining a
// household are online-only operations: there is nothing sensible to queue
// before a device belongs to a household.
package household

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/florianbuchner/whodoes/internal/model"
	"github.com/florianbuchner/whodoes/internal/remote"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

// ErrInvalidCode means no household matches the entered invite code.
var ErrInvalidCode = errors.New("invalid household code")

type Service struct {
	gw remote.Gateway
}

func NewService(gw remote.Gateway) *Service {
	return &Service{gw: gw}
}

// Create registers a new household with a generated invite code. A duplicate
// code surfaces as a ConflictError from the gateway.
func (s *Service) Create(ctx context.Context, name string) (model.Household, error) {
	code, err := generateCode()
	if err != nil {
		return model.Household{}, fmt.Errorf("generate code: %w", err)
	}

	h := model.Household{
		ID:        uuid.NewString(),
		Code:      code,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	var saved model.Household
	if err := s.gw.Insert(ctx, remote.TableHouseholds, h, &saved); err != nil {
		return model.Household{}, err
	}
	return saved, nil
}

// Join looks a household up by invite code. Codes are stored uppercase, so
// the input is uppercased before the lookup.
func (s *Service) Join(ctx context.Context, code string) (model.Household, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	var matches []model.Household
	err := s.gw.Select(ctx, remote.TableHouseholds, remote.Filter{"code": code}, "", &matches)
	if err != nil {
		return model.Household{}, err
	}
	if len(matches) == 0 {
		return model.Household{}, ErrInvalidCode
	}
	return matches[0], nil
}

// CreatePartner registers a partner in the household.
func (s *Service) CreatePartner(ctx context.Context, householdID, name, avatar string) (model.Partner, error) {
	p := model.Partner{
		ID:          uuid.NewString(),
		HouseholdID: householdID,
		Name:        name,
		Avatar:      avatar,
		CreatedAt:   time.Now().UTC(),
	}
	var saved model.Partner
	if err := s.gw.Insert(ctx, remote.TablePartners, p, &saved); err != nil {
		return model.Partner{}, err
	}
	return saved, nil
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
