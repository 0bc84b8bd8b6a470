package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/collapsinghierarchy/quorum/model"
	"github.com/collapsinghierarchy/quorum/store"
)

// Register creates the caller's contributor record with score 0, active.
func (s *Service) Register(ctx context.Context, caller model.Address, region, department, idDocHash string) (*model.Contributor, error) {
	region = strings.TrimSpace(region)
	department = strings.TrimSpace(department)
	idDocHash = strings.TrimSpace(idDocHash)
	if caller.IsZero() || region == "" || department == "" || idDocHash == "" {
		return nil, fmt.Errorf("region, department and id document hash are required: %w", ErrInvalidInput)
	}
	for _, f := range []struct{ name, v string }{
		{"region", region}, {"department", department}, {"id document hash", idDocHash},
	} {
		if len(f.v) > model.MaxProfileField {
			return nil, fmt.Errorf("%s longer than %d bytes: %w", f.name, model.MaxProfileField, ErrInvalidInput)
		}
	}
	c := &model.Contributor{
		Address:      caller,
		Registered:   true,
		Region:       region,
		Department:   department,
		IDDocHash:    idDocHash,
		Active:       true,
		RegisteredAt: s.clock(),
	}
	err := s.update(ctx, "register", func(tx store.Tx) error {
		if err := tx.InsertContributor(ctx, c); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("%s: %w", caller, ErrAlreadyRegistered)
			}
			return err
		}
		return s.emit(ctx, tx, model.EventContributorRegistered, 0, caller, caller, map[string]string{
			"region":     region,
			"department": department,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("contributor registered", "address", caller.String())
	return c, nil
}

// Contributor returns the record for addr. Unknown addresses yield an
// unregistered zero record rather than an error.
func (s *Service) Contributor(ctx context.Context, addr model.Address) (*model.Contributor, error) {
	var c *model.Contributor
	err := s.Store.View(ctx, func(tx store.Tx) error {
		var err error
		c, err = tx.Contributor(ctx, addr)
		if errors.Is(err, store.ErrNotFound) {
			c, err = &model.Contributor{Address: addr}, nil
		}
		return err
	})
	return c, err
}

// BannedContributors lists every inactive contributor. Owner only.
func (s *Service) BannedContributors(ctx context.Context, caller model.Address) ([]model.Address, error) {
	if err := s.requireOwner(caller); err != nil {
		s.metrics.observe("banned_contributors", err)
		return nil, err
	}
	var out []model.Address
	err := s.Store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.InactiveContributors(ctx)
		return err
	})
	return out, err
}

// requireActive loads the caller and rejects unregistered or suspended contributors.
func requireActive(ctx context.Context, tx store.Tx, caller model.Address) (*model.Contributor, error) {
	c, err := tx.Contributor(ctx, caller)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", caller, ErrNotRegistered)
	}
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, fmt.Errorf("%s: %w", caller, ErrSuspended)
	}
	return c, nil
}
