package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collapsinghierarchy/quorum/model"
	"github.com/collapsinghierarchy/quorum/store"
)

// maxAttempts bounds the retries of a transaction aborted by a
// serialization failure or a deadlock.
const maxAttempts = 5

type pgStore struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewStore(db *pgxpool.Pool, logger *slog.Logger) store.Store {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &pgStore{db: db, logger: logger.With("component", "postgres")}
}

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schema)
	return err
}

func (p *pgStore) Close() error {
	p.db.Close()
	return nil
}

func (p *pgStore) Update(ctx context.Context, fn func(store.Tx) error) error {
	return p.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
}

func (p *pgStore) View(ctx context.Context, fn func(store.Tx) error) error {
	return p.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (p *pgStore) run(ctx context.Context, opts pgx.TxOptions, fn func(store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = pgx.BeginTxFunc(ctx, p.db, opts, func(tx pgx.Tx) error {
			return fn(&pgTx{tx: tx})
		})
		if !retryable(err) {
			return err
		}
		p.logger.Debug("retrying transaction", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return fmt.Errorf("transaction retries exhausted: %w", err)
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type pgTx struct{ tx pgx.Tx }

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// -------- contributors ----------------------------------------------------

const contributorCols = `address, region, department, id_doc_hash, score, active, registered_at`

func scanContributor(row pgx.Row) (*model.Contributor, error) {
	var (
		c    model.Contributor
		addr []byte
	)
	if err := row.Scan(&addr, &c.Region, &c.Department, &c.IDDocHash, &c.Score, &c.Active, &c.RegisteredAt); err != nil {
		return nil, notFound(err)
	}
	copy(c.Address[:], addr)
	c.Registered = true
	c.RegisteredAt = c.RegisteredAt.UTC()
	return &c, nil
}

func (t *pgTx) Contributor(ctx context.Context, addr model.Address) (*model.Contributor, error) {
	return scanContributor(t.tx.QueryRow(ctx,
		`SELECT `+contributorCols+` FROM contributors WHERE address=$1`, addr[:]))
}

func (t *pgTx) ContributorForUpdate(ctx context.Context, addr model.Address) (*model.Contributor, error) {
	return scanContributor(t.tx.QueryRow(ctx,
		`SELECT `+contributorCols+` FROM contributors WHERE address=$1 FOR UPDATE`, addr[:]))
}

func (t *pgTx) InsertContributor(ctx context.Context, c *model.Contributor) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO contributors (`+contributorCols+`)
         VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.Address[:], c.Region, c.Department, c.IDDocHash, c.Score, c.Active, c.RegisteredAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (t *pgTx) UpdateContributor(ctx context.Context, c *model.Contributor) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE contributors SET score=$2, active=$3 WHERE address=$1`,
		c.Address[:], c.Score, c.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) InactiveContributors(ctx context.Context) ([]model.Address, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT address FROM contributors WHERE NOT active ORDER BY address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Address
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var a model.Address
		copy(a[:], raw)
		out = append(out, a)
	}
	return out, rows.Err()
}

// -------- submissions -----------------------------------------------------

func (t *pgTx) NextSubmissionID(ctx context.Context) (uint64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO counters (name, value) VALUES ('submission', 1)
         ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
         RETURNING value`).Scan(&id)
	return uint64(id), err
}

func (t *pgTx) SubmissionCounter(ctx context.Context) (uint64, error) {
	var n int64
	err := t.tx.QueryRow(ctx,
		`SELECT value FROM counters WHERE name='submission'`).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return uint64(n), err
}

func (t *pgTx) Submission(ctx context.Context, id uint64) (*model.Submission, error) {
	var (
		s         model.Submission
		submitter []byte
		status    string
		votes     int32
	)
	err := t.tx.QueryRow(ctx,
		`SELECT submitter, image_hashes, text_hash, status, created_at, vote_count, finalized
         FROM submissions WHERE id=$1`, int64(id)).
		Scan(&submitter, &s.ImageHashes, &s.TextHash, &status, &s.CreatedAt, &votes, &s.Finalized)
	if err != nil {
		return nil, notFound(err)
	}
	s.ID = id
	copy(s.Submitter[:], submitter)
	s.Status = model.Status(status)
	s.VoteCount = uint32(votes)
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

func (t *pgTx) InsertSubmission(ctx context.Context, s *model.Submission) error {
	images := s.ImageHashes
	if images == nil {
		images = []string{}
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO submissions (id, submitter, image_hashes, text_hash, status, created_at, vote_count, finalized)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		int64(s.ID), s.Submitter[:], images, s.TextHash, string(s.Status), s.CreatedAt, int32(s.VoteCount), s.Finalized)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (t *pgTx) UpdateSubmission(ctx context.Context, s *model.Submission) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE submissions SET status=$2, vote_count=$3, finalized=$4 WHERE id=$1`,
		int64(s.ID), string(s.Status), int32(s.VoteCount), s.Finalized)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteSubmission relies on ON DELETE CASCADE for the assignment and votes.
func (t *pgTx) DeleteSubmission(ctx context.Context, id uint64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM submissions WHERE id=$1`, int64(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// -------- assignments & votes ---------------------------------------------

func (t *pgTx) Assignment(ctx context.Context, id uint64) (*model.Assignment, error) {
	var (
		a      model.Assignment
		root   []byte
		window int64
		kid    int16
	)
	err := t.tx.QueryRow(ctx,
		`SELECT merkle_root, window_opened_at, window_ns, sealed_salt, salt_kid
         FROM assignments WHERE submission_id=$1`, int64(id)).
		Scan(&root, &a.WindowOpenedAt, &window, &a.SealedSalt, &kid)
	if err != nil {
		return nil, notFound(err)
	}
	a.SubmissionID = id
	copy(a.MerkleRoot[:], root)
	a.WindowOpenedAt = a.WindowOpenedAt.UTC()
	a.WindowDuration = time.Duration(window)
	a.SaltKid = uint8(kid)
	return &a, nil
}

func (t *pgTx) PutAssignment(ctx context.Context, a *model.Assignment) error {
	if err := t.DeleteAssignment(ctx, a.SubmissionID); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO assignments (submission_id, merkle_root, window_opened_at, window_ns, sealed_salt, salt_kid)
         VALUES ($1,$2,$3,$4,$5,$6)`,
		int64(a.SubmissionID), a.MerkleRoot[:], a.WindowOpenedAt, int64(a.WindowDuration), a.SealedSalt, int16(a.SaltKid))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return store.ErrNotFound
	}
	return err
}

func (t *pgTx) DeleteAssignment(ctx context.Context, id uint64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM assignments WHERE submission_id=$1`, int64(id))
	return err
}

func (t *pgTx) Votes(ctx context.Context, id uint64) ([]*model.Vote, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT verifier, decision, proof, submitted_at
         FROM votes WHERE submission_id=$1 ORDER BY submitted_at, verifier`, int64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Vote
	for rows.Next() {
		var (
			v        model.Vote
			verifier []byte
			decision string
			proof    []byte
		)
		if err := rows.Scan(&verifier, &decision, &proof, &v.SubmittedAt); err != nil {
			return nil, err
		}
		v.SubmissionID = id
		copy(v.Verifier[:], verifier)
		v.Decision = model.Decision(decision)
		v.Proof = unpackProof(proof)
		v.SubmittedAt = v.SubmittedAt.UTC()
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertVote(ctx context.Context, v *model.Vote) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO votes (submission_id, verifier, decision, proof, submitted_at)
         VALUES ($1,$2,$3,$4,$5)`,
		int64(v.SubmissionID), v.Verifier[:], string(v.Decision), packProof(v.Proof), v.SubmittedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return store.ErrNotFound
	}
	return err
}

func packProof(p [model.ProofLength]model.Hash) []byte {
	buf := make([]byte, 0, len(p)*32)
	for _, h := range p {
		buf = append(buf, h[:]...)
	}
	return buf
}

func unpackProof(b []byte) [model.ProofLength]model.Hash {
	var p [model.ProofLength]model.Hash
	for i := range p {
		if len(b) >= (i+1)*32 {
			copy(p[i][:], b[i*32:(i+1)*32])
		}
	}
	return p
}

// -------- events ----------------------------------------------------------

func (t *pgTx) AppendEvent(ctx context.Context, e *model.Event) error {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return fmt.Errorf("event id: %w", err)
	}
	var seq int64
	err = t.tx.QueryRow(ctx,
		`INSERT INTO events (id, type, submission_id, actor, subject, data, created_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING seq`,
		id, string(e.Type), int64(e.SubmissionID), e.Actor[:], e.Subject[:], jsonOrNil(e.Data), e.CreatedAt).
		Scan(&seq)
	if err != nil {
		return err
	}
	e.Seq = uint64(seq)
	return nil
}

func jsonOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (t *pgTx) Events(ctx context.Context, after uint64, limit int) ([]*model.Event, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT seq, id, type, submission_id, actor, subject, data, created_at
         FROM events WHERE seq > $1 ORDER BY seq ASC LIMIT $2`, int64(after), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Event
	for rows.Next() {
		var (
			e              model.Event
			seq, subID     int64
			id             uuid.UUID
			typ            string
			actor, subject []byte
			data           []byte
		)
		if err := rows.Scan(&seq, &id, &typ, &subID, &actor, &subject, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		e.ID = id.String()
		e.Type = model.EventType(typ)
		e.SubmissionID = uint64(subID)
		copy(e.Actor[:], actor)
		copy(e.Subject[:], subject)
		e.Data = data
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}
