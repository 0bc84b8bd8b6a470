package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/collapsinghierarchy/quorum/model"
	"github.com/collapsinghierarchy/quorum/store"
)

const submissionCounter = "submission"

type gormTx struct {
	db       *gorm.DB
	lockRows bool
}

func (t *gormTx) q(ctx context.Context) *gorm.DB { return t.db.WithContext(ctx) }

func (t *gormTx) locked(ctx context.Context) *gorm.DB {
	if t.lockRows {
		return t.q(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return t.q(ctx)
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrDuplicate
	}
	return err
}

// exists reports whether a row of table matches the condition.
func (t *gormTx) exists(ctx context.Context, table any, query string, args ...any) (bool, error) {
	var n int64
	err := t.q(ctx).Model(table).Where(query, args...).Count(&n).Error
	return n > 0, err
}

// -------- contributors ----------------------------------------------------

func toContributor(r *contributorRow) (*model.Contributor, error) {
	a, err := model.ParseAddress(r.Address)
	if err != nil {
		return nil, err
	}
	return &model.Contributor{
		Address:      a,
		Registered:   true,
		Region:       r.Region,
		Department:   r.Department,
		IDDocHash:    r.IDDocHash,
		Score:        r.Score,
		Active:       r.Active,
		RegisteredAt: r.RegisteredAt.UTC(),
	}, nil
}

func (t *gormTx) contributor(db *gorm.DB, addr model.Address) (*model.Contributor, error) {
	var row contributorRow
	if err := db.Where("address = ?", addr.String()).Take(&row).Error; err != nil {
		return nil, mapErr(err)
	}
	return toContributor(&row)
}

func (t *gormTx) Contributor(ctx context.Context, addr model.Address) (*model.Contributor, error) {
	return t.contributor(t.q(ctx), addr)
}

func (t *gormTx) ContributorForUpdate(ctx context.Context, addr model.Address) (*model.Contributor, error) {
	return t.contributor(t.locked(ctx), addr)
}

func (t *gormTx) InsertContributor(ctx context.Context, c *model.Contributor) error {
	found, err := t.exists(ctx, &contributorRow{}, "address = ?", c.Address.String())
	if err != nil {
		return err
	}
	if found {
		return store.ErrDuplicate
	}
	return mapErr(t.q(ctx).Create(&contributorRow{
		Address:      c.Address.String(),
		Region:       c.Region,
		Department:   c.Department,
		IDDocHash:    c.IDDocHash,
		Score:        c.Score,
		Active:       c.Active,
		RegisteredAt: c.RegisteredAt.UTC(),
	}).Error)
}

func (t *gormTx) UpdateContributor(ctx context.Context, c *model.Contributor) error {
	return t.updateOne(ctx, &contributorRow{}, "address = ?", c.Address.String(),
		map[string]any{"score": c.Score, "active": c.Active})
}

// updateOne applies values to the single row matching key. MySQL reports
// zero affected rows for no-op updates, so a miss is confirmed by lookup.
func (t *gormTx) updateOne(ctx context.Context, table any, query string, key any, values map[string]any) error {
	res := t.q(ctx).Model(table).Where(query, key).Updates(values)
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	found, err := t.exists(ctx, table, query, key)
	if err != nil {
		return err
	}
	if !found {
		return store.ErrNotFound
	}
	return nil
}

func (t *gormTx) InactiveContributors(ctx context.Context) ([]model.Address, error) {
	var raw []string
	err := t.q(ctx).Model(&contributorRow{}).
		Where("active = ?", false).
		Order("address").
		Pluck("address", &raw).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.Address, 0, len(raw))
	for _, s := range raw {
		a, err := model.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// -------- submissions -----------------------------------------------------

func (t *gormTx) NextSubmissionID(ctx context.Context) (uint64, error) {
	var row counterRow
	err := t.locked(ctx).Where("name = ?", submissionCounter).Take(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = counterRow{Name: submissionCounter, Value: 1}
		if err := t.q(ctx).Create(&row).Error; err != nil {
			return 0, mapErr(err)
		}
		return 1, nil
	case err != nil:
		return 0, err
	}
	row.Value++
	if err := t.q(ctx).Model(&row).Update("value", row.Value).Error; err != nil {
		return 0, err
	}
	return row.Value, nil
}

func (t *gormTx) SubmissionCounter(ctx context.Context) (uint64, error) {
	var row counterRow
	err := t.q(ctx).Where("name = ?", submissionCounter).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return row.Value, err
}

func (t *gormTx) Submission(ctx context.Context, id uint64) (*model.Submission, error) {
	var row submissionRow
	if err := t.q(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, mapErr(err)
	}
	submitter, err := model.ParseAddress(row.Submitter)
	if err != nil {
		return nil, err
	}
	return &model.Submission{
		ID:          row.ID,
		Submitter:   submitter,
		ImageHashes: row.ImageHashes,
		TextHash:    row.TextHash,
		Status:      model.Status(row.Status),
		CreatedAt:   row.CreatedAt.UTC(),
		VoteCount:   row.VoteCount,
		Finalized:   row.Finalized,
	}, nil
}

func (t *gormTx) InsertSubmission(ctx context.Context, s *model.Submission) error {
	found, err := t.exists(ctx, &submissionRow{}, "id = ?", s.ID)
	if err != nil {
		return err
	}
	if found {
		return store.ErrDuplicate
	}
	images := s.ImageHashes
	if images == nil {
		images = []string{}
	}
	return mapErr(t.q(ctx).Create(&submissionRow{
		ID:          s.ID,
		Submitter:   s.Submitter.String(),
		ImageHashes: images,
		TextHash:    s.TextHash,
		Status:      string(s.Status),
		CreatedAt:   s.CreatedAt.UTC(),
		VoteCount:   s.VoteCount,
		Finalized:   s.Finalized,
	}).Error)
}

func (t *gormTx) UpdateSubmission(ctx context.Context, s *model.Submission) error {
	return t.updateOne(ctx, &submissionRow{}, "id = ?", s.ID, map[string]any{
		"status":     string(s.Status),
		"vote_count": s.VoteCount,
		"finalized":  s.Finalized,
	})
}

func (t *gormTx) DeleteSubmission(ctx context.Context, id uint64) error {
	res := t.q(ctx).Where("id = ?", id).Delete(&submissionRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return t.DeleteAssignment(ctx, id)
}

// -------- assignments & votes ---------------------------------------------

func (t *gormTx) Assignment(ctx context.Context, id uint64) (*model.Assignment, error) {
	var row assignmentRow
	if err := t.q(ctx).Where("submission_id = ?", id).Take(&row).Error; err != nil {
		return nil, mapErr(err)
	}
	a := &model.Assignment{
		SubmissionID:   row.SubmissionID,
		WindowOpenedAt: row.WindowOpenedAt.UTC(),
		WindowDuration: time.Duration(row.WindowNs),
		SealedSalt:     row.SealedSalt,
		SaltKid:        row.SaltKid,
	}
	copy(a.MerkleRoot[:], row.MerkleRoot)
	return a, nil
}

func (t *gormTx) PutAssignment(ctx context.Context, a *model.Assignment) error {
	found, err := t.exists(ctx, &submissionRow{}, "id = ?", a.SubmissionID)
	if err != nil {
		return err
	}
	if !found {
		return store.ErrNotFound
	}
	if err := t.DeleteAssignment(ctx, a.SubmissionID); err != nil {
		return err
	}
	return mapErr(t.q(ctx).Create(&assignmentRow{
		SubmissionID:   a.SubmissionID,
		MerkleRoot:     a.MerkleRoot[:],
		WindowOpenedAt: a.WindowOpenedAt.UTC(),
		WindowNs:       int64(a.WindowDuration),
		SealedSalt:     a.SealedSalt,
		SaltKid:        a.SaltKid,
	}).Error)
}

func (t *gormTx) DeleteAssignment(ctx context.Context, id uint64) error {
	if err := t.q(ctx).Where("submission_id = ?", id).Delete(&voteRow{}).Error; err != nil {
		return err
	}
	return t.q(ctx).Where("submission_id = ?", id).Delete(&assignmentRow{}).Error
}

func (t *gormTx) Votes(ctx context.Context, id uint64) ([]*model.Vote, error) {
	var rows []voteRow
	err := t.q(ctx).Where("submission_id = ?", id).
		Order("submitted_at").Order("verifier").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*model.Vote, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		verifier, err := model.ParseAddress(r.Verifier)
		if err != nil {
			return nil, err
		}
		v := &model.Vote{
			SubmissionID: r.SubmissionID,
			Verifier:     verifier,
			Decision:     model.Decision(r.Decision),
			SubmittedAt:  r.SubmittedAt.UTC(),
		}
		for j := range v.Proof {
			if len(r.Proof) >= (j+1)*32 {
				copy(v.Proof[j][:], r.Proof[j*32:])
			}
		}
		out = append(out, v)
	}
	return out, nil
}

func (t *gormTx) InsertVote(ctx context.Context, v *model.Vote) error {
	found, err := t.exists(ctx, &assignmentRow{}, "submission_id = ?", v.SubmissionID)
	if err != nil {
		return err
	}
	if !found {
		return store.ErrNotFound
	}
	found, err = t.exists(ctx, &voteRow{}, "submission_id = ? AND verifier = ?",
		v.SubmissionID, v.Verifier.String())
	if err != nil {
		return err
	}
	if found {
		return store.ErrDuplicate
	}
	proof := make([]byte, 0, len(v.Proof)*32)
	for _, h := range v.Proof {
		proof = append(proof, h[:]...)
	}
	return mapErr(t.q(ctx).Create(&voteRow{
		SubmissionID: v.SubmissionID,
		Verifier:     v.Verifier.String(),
		Decision:     string(v.Decision),
		Proof:        proof,
		SubmittedAt:  v.SubmittedAt.UTC(),
	}).Error)
}

// -------- events ----------------------------------------------------------

func (t *gormTx) AppendEvent(ctx context.Context, e *model.Event) error {
	row := eventRow{
		EventID:      e.ID,
		Type:         string(e.Type),
		SubmissionID: e.SubmissionID,
		Actor:        e.Actor.String(),
		Subject:      e.Subject.String(),
		Data:         e.Data,
		CreatedAt:    e.CreatedAt.UTC(),
	}
	if err := t.q(ctx).Create(&row).Error; err != nil {
		return mapErr(err)
	}
	e.Seq = row.Seq
	return nil
}

func (t *gormTx) Events(ctx context.Context, after uint64, limit int) ([]*model.Event, error) {
	var rows []eventRow
	err := t.q(ctx).Where("seq > ?", after).Order("seq").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*model.Event, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		e := &model.Event{
			Seq:          r.Seq,
			ID:           r.EventID,
			Type:         model.EventType(r.Type),
			SubmissionID: r.SubmissionID,
			Data:         r.Data,
			CreatedAt:    r.CreatedAt.UTC(),
		}
		var err error
		if e.Actor, err = model.ParseAddress(r.Actor); err != nil {
			return nil, err
		}
		if e.Subject, err = model.ParseAddress(r.Subject); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
