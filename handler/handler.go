package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/collapsinghierarchy/quorum/model"
	"github.com/collapsinghierarchy/quorum/service"
)

// maxBody bounds every JSON request body.
const maxBody = 64 * 1024

type Server struct {
	svc    *service.Service
	logger *slog.Logger
}

// New returns a ready Server instance.
func New(svc *service.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Server{svc: svc, logger: logger.With("component", "handler")}
}

var errUnauthenticated = errors.New("authentication required")

var statusByCode = map[string]int{
	"NotRegistered":         http.StatusForbidden,
	"Suspended":             http.StatusForbidden,
	"Forbidden":             http.StatusForbidden,
	"InvalidInput":          http.StatusBadRequest,
	"NotFound":              http.StatusNotFound,
	"AlreadyRegistered":     http.StatusConflict,
	"InvalidState":          http.StatusConflict,
	"AlreadyVoted":          http.StatusConflict,
	"WindowClosed":          http.StatusConflict,
	"SaltMismatch":          http.StatusUnprocessableEntity,
	"InsufficientConsensus": http.StatusUnprocessableEntity,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errUnauthenticated) {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error(), Code: "Unauthorized"})
		return
	}
	code := service.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: code})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func caller(r *http.Request) (model.Address, error) {
	a, ok := CallerFrom(r.Context())
	if !ok {
		return model.Address{}, errUnauthenticated
	}
	return a, nil
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("malformed request body: %v: %w", err, service.ErrInvalidInput)
	}
	return nil
}

func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("submission id %q: %w", r.PathValue("id"), service.ErrInvalidInput)
	}
	return id, nil
}

func pathAddress(r *http.Request) (model.Address, error) {
	a, err := model.ParseAddress(r.PathValue("address"))
	if err != nil {
		return model.Address{}, fmt.Errorf("address %q: %w", r.PathValue("address"), service.ErrInvalidInput)
	}
	return a, nil
}

// -------- contributors ----------------------------------------------------

func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req registerRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.svc.Register(r.Context(), who, req.Region, req.Department, req.IDDocHash)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, contributorDTO(c))
}

func (s *Server) Contributor(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.svc.Contributor(r.Context(), addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contributorDTO(c))
}

func (s *Server) Banned(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	banned, err := s.svc.BannedContributors(r.Context(), who)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if banned == nil {
		banned = []model.Address{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"addresses": banned})
}

func (s *Server) Ban(w http.ResponseWriter, r *http.Request) {
	s.standing(w, r, s.svc.BanContributor)
}

func (s *Server) Reinstate(w http.ResponseWriter, r *http.Request) {
	s.standing(w, r, s.svc.ReinstateContributor)
}

func (s *Server) standing(w http.ResponseWriter, r *http.Request, op func(context.Context, model.Address, model.Address) error) {
	who, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	target, err := pathAddress(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := op(r.Context(), who, target); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) Roles(w http.ResponseWriter, _ *http.Request) {
	roles := s.svc.Roles()
	writeJSON(w, http.StatusOK, rolesResponse{Owner: roles.Owner, Coordinator: roles.Coordinator})
}

// -------- submissions -----------------------------------------------------

func (s *Server) Submit(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req submitRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := s.svc.Submit(r.Context(), who, req.ImageHashes, req.TextHash)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/submissions/%d", id))
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (s *Server) Counter(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.SubmissionCounter(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"counter": n})
}

func (s *Server) Submission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sub, err := s.svc.Submission(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submissionDTO(sub))
}

func (s *Server) DeleteSubmission(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.svc.DeleteSubmission(r.Context(), who, id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// -------- verification ----------------------------------------------------

func (s *Server) CommitVerifiers(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req commitRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.svc.CommitVerifiers(r.Context(), who, id, req.MerkleRoot, req.SealedSalt); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) Vote(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req voteRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.svc.SubmitVerification(r.Context(), who, id, req.Decision, req.Proof); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) Reveal(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req revealRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := s.svc.RevealFinalSubmissionDecision(r.Context(), who, id, req.Salt, req.Verifiers)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) ReVerify(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.svc.ReVerifySubmission(r.Context(), who, id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) Assignment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.svc.Assignment(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// -------- events & escrow -------------------------------------------------

func (s *Server) Events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		after uint64
		limit int
		err   error
	)
	if v := q.Get("after"); v != "" {
		if after, err = strconv.ParseUint(v, 10, 64); err != nil {
			s.fail(w, r, fmt.Errorf("after %q: %w", v, service.ErrInvalidInput))
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			s.fail(w, r, fmt.Errorf("limit %q: %w", v, service.ErrInvalidInput))
			return
		}
	}
	events, err := s.svc.Events(r.Context(), after, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventDTO(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *Server) EscrowKey(w http.ResponseWriter, r *http.Request) {
	kid, pub, err := s.svc.EscrowKey()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, escrowKeyResponse{Kid: kid, PublicKey: pub})
}
