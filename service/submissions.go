package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/collapsinghierarchy/quorum/model"
	"github.com/collapsinghierarchy/quorum/store"
)

// Submit stores a new Pending submission from an active contributor and
// returns its id.
func (s *Service) Submit(ctx context.Context, caller model.Address, imageHashes []string, textHash string) (uint64, error) {
	var id uint64
	err := s.update(ctx, "submit", func(tx store.Tx) error {
		if _, err := requireActive(ctx, tx, caller); err != nil {
			return err
		}
		images, text, err := normalizeContent(imageHashes, textHash)
		if err != nil {
			return err
		}
		if id, err = tx.NextSubmissionID(ctx); err != nil {
			return err
		}
		sub := &model.Submission{
			ID:          id,
			Submitter:   caller,
			ImageHashes: images,
			TextHash:    text,
			Status:      model.StatusPending,
			CreatedAt:   s.clock(),
		}
		if err := tx.InsertSubmission(ctx, sub); err != nil {
			return err
		}
		return s.emit(ctx, tx, model.EventSubmissionCreated, id, caller, caller, map[string]any{
			"images": len(images),
		})
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("submission created", "id", id, "submitter", caller.String())
	return id, nil
}

func normalizeContent(imageHashes []string, textHash string) ([]string, string, error) {
	text := strings.TrimSpace(textHash)
	if text == "" {
		return nil, "", fmt.Errorf("text hash is required: %w", ErrInvalidInput)
	}
	if len(text) > model.MaxContentHash {
		return nil, "", fmt.Errorf("text hash longer than %d bytes: %w", model.MaxContentHash, ErrInvalidInput)
	}
	if len(imageHashes) > model.MaxImageHashes {
		return nil, "", fmt.Errorf("%d image hashes, at most %d allowed: %w",
			len(imageHashes), model.MaxImageHashes, ErrInvalidInput)
	}
	images := make([]string, 0, len(imageHashes))
	for i, h := range imageHashes {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, "", fmt.Errorf("image hash %d is empty: %w", i, ErrInvalidInput)
		}
		if len(h) > model.MaxContentHash {
			return nil, "", fmt.Errorf("image hash %d longer than %d bytes: %w", i, model.MaxContentHash, ErrInvalidInput)
		}
		images = append(images, h)
	}
	return images, text, nil
}

func (s *Service) Submission(ctx context.Context, id uint64) (*model.Submission, error) {
	var sub *model.Submission
	err := s.Store.View(ctx, func(tx store.Tx) error {
		var err error
		sub, err = loadSubmission(ctx, tx, id)
		return err
	})
	return sub, err
}

// SubmissionCounter returns the last allocated submission id.
func (s *Service) SubmissionCounter(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.Store.View(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.SubmissionCounter(ctx)
		return err
	})
	return n, err
}

// DeleteSubmission irrecoverably removes a submission with its assignment
// and votes, whatever its status. Admin only.
func (s *Service) DeleteSubmission(ctx context.Context, caller model.Address, id uint64) error {
	if err := s.requireAdmin(caller); err != nil {
		s.metrics.observe("delete_submission", err)
		return err
	}
	err := s.update(ctx, "delete_submission", func(tx store.Tx) error {
		sub, err := loadSubmission(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteSubmission(ctx, id); err != nil {
			return err
		}
		return s.emit(ctx, tx, model.EventSubmissionDeleted, id, caller, sub.Submitter, map[string]any{
			"status": sub.Status,
		})
	})
	if err != nil {
		return err
	}
	s.logger.Warn("submission deleted", "id", id, "by", caller.String())
	return nil
}
