package gormstore

import "time"

type contributorRow struct {
	Address      string `gorm:"primaryKey;size:42"`
	Region       string `gorm:"size:128"` // model.MaxProfileField
	Department   string `gorm:"size:128"`
	IDDocHash    string `gorm:"size:128"`
	Score        int64
	Active       bool `gorm:"index"`
	RegisteredAt time.Time
}

func (contributorRow) TableName() string { return "contributors" }

type counterRow struct {
	Name  string `gorm:"primaryKey;size:32"`
	Value uint64
}

func (counterRow) TableName() string { return "counters" }

type submissionRow struct {
	ID          uint64   `gorm:"primaryKey;autoIncrement:false"`
	Submitter   string   `gorm:"size:42;index"`
	ImageHashes []string `gorm:"serializer:json;type:text"`
	TextHash    string   `gorm:"size:256"` // model.MaxContentHash
	Status      string   `gorm:"size:16"`
	CreatedAt   time.Time
	VoteCount   uint32
	Finalized   bool
}

func (submissionRow) TableName() string { return "submissions" }

type assignmentRow struct {
	SubmissionID   uint64 `gorm:"primaryKey;autoIncrement:false"`
	MerkleRoot     []byte
	WindowOpenedAt time.Time
	WindowNs       int64
	SealedSalt     []byte
	SaltKid        uint8
}

func (assignmentRow) TableName() string { return "assignments" }

type voteRow struct {
	SubmissionID uint64 `gorm:"primaryKey;autoIncrement:false"`
	Verifier     string `gorm:"primaryKey;size:42"`
	Decision     string `gorm:"size:8"`
	Proof        []byte
	SubmittedAt  time.Time
}

func (voteRow) TableName() string { return "votes" }

type eventRow struct {
	Seq          uint64 `gorm:"primaryKey;autoIncrement"`
	EventID      string `gorm:"column:event_id;size:36;uniqueIndex"`
	Type         string `gorm:"size:32"`
	SubmissionID uint64 `gorm:"index"`
	Actor        string `gorm:"size:42"`
	Subject      string `gorm:"size:42"`
	Data         []byte
	CreatedAt    time.Time
}

func (eventRow) TableName() string { return "events" }

var migrateModels = []any{
	&contributorRow{},
	&counterRow{},
	&submissionRow{},
	&assignmentRow{},
	&voteRow{},
	&eventRow{},
}
