package model

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Limits shared by the service and the stores.
const (
	MaxImageHashes = 5
	VerifierCount  = 8
	ProofLength    = 3

	// MaxProfileField bounds region, department and id document hash.
	MaxProfileField = 128
	// MaxContentHash bounds the text hash and each image hash.
	MaxContentHash = 256
)

var (
	ErrBadAddress = errors.New("invalid address")
	ErrBadHash    = errors.New("invalid 32-byte hash")
)

// Address identifies a participant. Its text form is 0x-prefixed lowercase hex.
type Address [20]byte

func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := decodeHex(s, len(a))
	if err != nil {
		return a, ErrBadAddress
	}
	copy(a[:], b)
	return a, nil
}

func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) IsZero() bool { return a == Address{} }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(b []byte) error {
	v, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Hash is a 32-byte digest: Merkle roots and proof elements.
type Hash [32]byte

func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := decodeHex(s, len(h))
	if err != nil {
		return h, ErrBadHash
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) UnmarshalText(b []byte) error {
	v, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

func decodeHex(s string, size int) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, errors.New("wrong length")
	}
	return b, nil
}

type Status string

const (
	StatusPending  Status = "Pending"
	StatusAccepted Status = "Accepted"
	StatusRejected Status = "Rejected"
)

type Decision string

const (
	DecisionAccept Decision = "Accept"
	DecisionReject Decision = "Reject"
)

func (d Decision) Valid() bool { return d == DecisionAccept || d == DecisionReject }

// Outcome is the terminal status a majority decision maps to.
func (d Decision) Outcome() Status {
	if d == DecisionAccept {
		return StatusAccepted
	}
	return StatusRejected
}

type Contributor struct {
	Address      Address
	Registered   bool
	Region       string
	Department   string
	IDDocHash    string
	Score        int64
	Active       bool
	RegisteredAt time.Time
}

type Submission struct {
	ID          uint64
	Submitter   Address
	ImageHashes []string
	TextHash    string
	Status      Status
	CreatedAt   time.Time
	VoteCount   uint32
	Finalized   bool
}

// Assignment is the committed verifier set of a submission. The salt is not
// part of it; SealedSalt is an optional escrow envelope the service cannot open.
type Assignment struct {
	SubmissionID   uint64
	MerkleRoot     Hash
	WindowOpenedAt time.Time
	WindowDuration time.Duration
	SealedSalt     []byte
	SaltKid        uint8
}

func (a *Assignment) ClosesAt() time.Time { return a.WindowOpenedAt.Add(a.WindowDuration) }

// Open reports whether votes are still accepted at now.
func (a *Assignment) Open(now time.Time) bool { return now.Before(a.ClosesAt()) }

type Vote struct {
	SubmissionID uint64
	Verifier     Address
	Decision     Decision
	Proof        [ProofLength]Hash
	SubmittedAt  time.Time
}

type EventType string

const (
	EventContributorRegistered EventType = "ContributorRegistered"
	EventContributorBanned     EventType = "ContributorBanned"
	EventContributorReinstated EventType = "ContributorReinstated"
	EventContributorSuspended  EventType = "ContributorSuspended"
	EventScoreChanged          EventType = "ScoreChanged"
	EventSubmissionCreated     EventType = "SubmissionCreated"
	EventSubmissionDeleted     EventType = "SubmissionDeleted"
	EventSubmissionFinalized   EventType = "SubmissionFinalized"
	EventSubmissionReopened    EventType = "SubmissionReopened"
	EventVerifiersCommitted    EventType = "VerifiersCommitted"
	EventVoteRecorded          EventType = "VoteRecorded"
)

// Event is an entry of the append-only protocol log. Seq is assigned by the store.
type Event struct {
	Seq          uint64
	ID           string
	Type         EventType
	SubmissionID uint64
	Actor        Address
	Subject      Address
	Data         []byte // JSON
	CreatedAt    time.Time
}
