package handler

import (
	"encoding/json"
	"time"

	"github.com/collapsinghierarchy/quorum/model"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type registerRequest struct {
	Region     string `json:"region"`
	Department string `json:"department"`
	IDDocHash  string `json:"idDocHash"`
}

type contributorResponse struct {
	Address      model.Address `json:"address"`
	Registered   bool          `json:"registered"`
	Region       string        `json:"region"`
	Department   string        `json:"department"`
	IDDocHash    string        `json:"idDocHash"`
	Score        int64         `json:"score"`
	Active       bool          `json:"active"`
	RegisteredAt *time.Time    `json:"registeredAt,omitempty"`
}

func contributorDTO(c *model.Contributor) contributorResponse {
	out := contributorResponse{
		Address:    c.Address,
		Registered: c.Registered,
		Region:     c.Region,
		Department: c.Department,
		IDDocHash:  c.IDDocHash,
		Score:      c.Score,
		Active:     c.Active,
	}
	if c.Registered {
		at := c.RegisteredAt
		out.RegisteredAt = &at
	}
	return out
}

type submitRequest struct {
	ImageHashes []string `json:"imageHashes"`
	TextHash    string   `json:"textHash"`
}

type submissionResponse struct {
	ID          uint64        `json:"id"`
	Submitter   model.Address `json:"submitter"`
	ImageHashes []string      `json:"imageHashes"`
	TextHash    string        `json:"textHash"`
	Status      model.Status  `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	VoteCount   uint32        `json:"voteCount"`
	Finalized   bool          `json:"finalized"`
}

func submissionDTO(s *model.Submission) submissionResponse {
	images := s.ImageHashes
	if images == nil {
		images = []string{}
	}
	return submissionResponse{
		ID:          s.ID,
		Submitter:   s.Submitter,
		ImageHashes: images,
		TextHash:    s.TextHash,
		Status:      s.Status,
		CreatedAt:   s.CreatedAt,
		VoteCount:   s.VoteCount,
		Finalized:   s.Finalized,
	}
}

// commitRequest carries the Merkle root; SealedSalt is base64 in JSON.
type commitRequest struct {
	MerkleRoot model.Hash `json:"merkleRoot"`
	SealedSalt []byte     `json:"sealedSalt,omitempty"`
}

type voteRequest struct {
	Decision model.Decision `json:"decision"`
	Proof    []model.Hash   `json:"proof"`
}

type revealRequest struct {
	Salt      string          `json:"salt"`
	Verifiers []model.Address `json:"verifiers"`
}

type eventResponse struct {
	Seq          uint64          `json:"seq"`
	ID           string          `json:"id"`
	Type         model.EventType `json:"type"`
	SubmissionID uint64          `json:"submissionId,omitempty"`
	Actor        *model.Address  `json:"actor,omitempty"`
	Subject      *model.Address  `json:"subject,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func eventDTO(e *model.Event) eventResponse {
	out := eventResponse{
		Seq:          e.Seq,
		ID:           e.ID,
		Type:         e.Type,
		SubmissionID: e.SubmissionID,
		CreatedAt:    e.CreatedAt,
	}
	if !e.Actor.IsZero() {
		a := e.Actor
		out.Actor = &a
	}
	if !e.Subject.IsZero() {
		a := e.Subject
		out.Subject = &a
	}
	if len(e.Data) > 0 {
		out.Data = json.RawMessage(e.Data)
	}
	return out
}

type rolesResponse struct {
	Owner       model.Address `json:"owner"`
	Coordinator model.Address `json:"coordinator"`
}

type escrowKeyResponse struct {
	Kid       uint8  `json:"kid"`
	PublicKey []byte `json:"publicKey"`
}
