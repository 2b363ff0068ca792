package storage

const sqliteSchema = `
-- The 'sources' table tracks the origin of the cards, either a local directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local',
    last_scanned DATETIME
);

-- The 'cards' table stores flashcard content. Cards are deactivated, never deleted,
-- so review states keep pointing at a valid card.
CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    exam_id TEXT NOT NULL,
    topic TEXT NOT NULL DEFAULT '',
    front TEXT NOT NULL,
    back TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    source_id INTEGER,
    created_at DATETIME NOT NULL,

    FOREIGN KEY(source_id) REFERENCES sources(id)
);
CREATE INDEX IF NOT EXISTS idx_cards_exam ON cards(exam_id, is_active);

-- One scheduling record per (learner, card) pair. Times are stored in UTC.
CREATE TABLE IF NOT EXISTS review_states (
    learner_id TEXT NOT NULL,
    card_id TEXT NOT NULL,
    mastery_level INTEGER NOT NULL CHECK (mastery_level BETWEEN 0 AND 5),
    review_count INTEGER NOT NULL CHECK (review_count >= 1),
    next_review_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,

    PRIMARY KEY (learner_id, card_id)
);
CREATE INDEX IF NOT EXISTS idx_review_states_due ON review_states(learner_id, next_review_at);

-- Append-only audit trail of review events.
CREATE TABLE IF NOT EXISTS review_log (
    id TEXT PRIMARY KEY,
    learner_id TEXT NOT NULL,
    card_id TEXT NOT NULL,
    quality INTEGER NOT NULL,
    mastery_before INTEGER NOT NULL,
    mastery_after INTEGER NOT NULL,
    reviewed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_review_log_learner ON review_log(learner_id, card_id);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sources (
    id BIGSERIAL PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local',
    last_scanned TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    exam_id TEXT NOT NULL,
    topic TEXT NOT NULL DEFAULT '',
    front TEXT NOT NULL,
    back TEXT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    source_id BIGINT REFERENCES sources(id),
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cards_exam ON cards(exam_id, is_active);

CREATE TABLE IF NOT EXISTS review_states (
    learner_id TEXT NOT NULL,
    card_id TEXT NOT NULL,
    mastery_level INTEGER NOT NULL CHECK (mastery_level BETWEEN 0 AND 5),
    review_count INTEGER NOT NULL CHECK (review_count >= 1),
    next_review_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (learner_id, card_id)
);
CREATE INDEX IF NOT EXISTS idx_review_states_due ON review_states(learner_id, next_review_at);

CREATE TABLE IF NOT EXISTS review_log (
    id TEXT PRIMARY KEY,
    learner_id TEXT NOT NULL,
    card_id TEXT NOT NULL,
    quality INTEGER NOT NULL,
    mastery_before INTEGER NOT NULL,
    mastery_after INTEGER NOT NULL,
    reviewed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_review_log_learner ON review_log(learner_id, card_id);
`
