package postgres

const schema = `
CREATE TABLE IF NOT EXISTS contributors (
    address       BYTEA PRIMARY KEY,
    region        TEXT NOT NULL,
    department    TEXT NOT NULL,
    id_doc_hash   TEXT NOT NULL,
    score         BIGINT NOT NULL DEFAULT 0,
    active        BOOLEAN NOT NULL DEFAULT TRUE,
    registered_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS counters (
    name  TEXT PRIMARY KEY,
    value BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS submissions (
    id           BIGINT PRIMARY KEY,
    submitter    BYTEA NOT NULL,
    image_hashes TEXT[] NOT NULL DEFAULT '{}',
    text_hash    TEXT NOT NULL,
    status       TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    vote_count   INTEGER NOT NULL DEFAULT 0,
    finalized    BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS assignments (
    submission_id    BIGINT PRIMARY KEY REFERENCES submissions(id) ON DELETE CASCADE,
    merkle_root      BYTEA NOT NULL,
    window_opened_at TIMESTAMPTZ NOT NULL,
    window_ns        BIGINT NOT NULL,
    sealed_salt      BYTEA,
    salt_kid         SMALLINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS votes (
    submission_id BIGINT NOT NULL REFERENCES assignments(submission_id) ON DELETE CASCADE,
    verifier      BYTEA NOT NULL,
    decision      TEXT NOT NULL,
    proof         BYTEA NOT NULL,
    submitted_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (submission_id, verifier)
);

CREATE TABLE IF NOT EXISTS events (
    seq           BIGSERIAL PRIMARY KEY,
    id            UUID NOT NULL,
    type          TEXT NOT NULL,
    submission_id BIGINT NOT NULL DEFAULT 0,
    actor         BYTEA,
    subject       BYTEA,
    data          JSONB,
    created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS contributors_inactive_idx ON contributors (active) WHERE NOT active;
`
