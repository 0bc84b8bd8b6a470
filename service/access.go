package service

import (
	"fmt"

	"github.com/collapsinghierarchy/quorum/model"
)

// Roles holds the two privileged identities. Every administrative operation
// checks it before touching the store.
type Roles struct {
	Owner       model.Address `json:"owner"`
	Coordinator model.Address `json:"coordinator"`
}

func (r Roles) IsOwner(a model.Address) bool { return !a.IsZero() && a == r.Owner }

func (r Roles) IsAdmin(a model.Address) bool {
	return !a.IsZero() && (a == r.Owner || a == r.Coordinator)
}

// IsAdmin reports whether a is the owner or the coordinator.
func (s *Service) IsAdmin(a model.Address) bool { return s.roles.IsAdmin(a) }

func (s *Service) requireAdmin(caller model.Address) error {
	if !s.roles.IsAdmin(caller) {
		return fmt.Errorf("%s is not an administrator: %w", caller, ErrForbidden)
	}
	return nil
}

func (s *Service) requireOwner(caller model.Address) error {
	if !s.roles.IsOwner(caller) {
		return fmt.Errorf("%s is not the owner: %w", caller, ErrForbidden)
	}
	return nil
}
