package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/bpolania/DeltaNEAR-sub000/internal/auction"
	"github.com/bpolania/DeltaNEAR-sub000/internal/catalog"
	"github.com/bpolania/DeltaNEAR-sub000/internal/events"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RejectionResponse is the 422 body for an intent that failed
// canonicalization.
type RejectionResponse struct {
	Reason  string `json:"reason"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// SubmitResponse answers POST /v1/intents.
type SubmitResponse struct {
	IntentHash string `json:"intent_hash"`
	Status     string `json:"status"`
}

// QuotesResponse answers POST /v1/intents/{hash}/quotes.
type QuotesResponse struct {
	Status           string   `json:"status"`
	SolversContacted []string `json:"solvers_contacted"`
}

// AcceptRequest is the body of POST /v1/intents/{hash}/accept.
type AcceptRequest struct {
	IntentHash string `json:"intent_hash,omitempty"`
	SignerID   string `json:"signer_id"`
	Signature  string `json:"signature"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// AcceptResponse answers POST /v1/intents/{hash}/accept.
type AcceptResponse struct {
	IntentHash       string `json:"intent_hash"`
	Status           string `json:"status"`
	WinningSolver    string `json:"winning_solver"`
	ExclusivityUntil string `json:"exclusivity_until"`
}

// HealthResponse answers GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Solvers int    `json:"solvers"`
}

// VersionResponse answers GET /version. Clients compare the hashes to
// detect a catalog or schema they were not built against.
type VersionResponse struct {
	SchemaVersion     string `json:"schema_version"`
	EventStandard     string `json:"event_standard"`
	EventVersion      string `json:"event_version"`
	CatalogSchemaHash string `json:"catalog_schema_hash"`
	CatalogHash       string `json:"catalog_hash,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxIntentBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "BodyTooLarge", err.Error())
		return
	}

	res, err := s.auctions.Submit(r.Context(), raw)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, SubmitResponse{IntentHash: res.IntentHash.String(), Status: string(res.Status)})
}

func (s *Server) handleRequestQuotes(w http.ResponseWriter, r *http.Request) {
	hash, ok := pathHash(w, r)
	if !ok {
		return
	}

	res, err := s.auctions.RequestQuotes(r.Context(), hash)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, QuotesResponse{Status: string(res.Status), SolversContacted: res.SolversContacted})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	hash, ok := pathHash(w, r)
	if !ok {
		return
	}

	var body AcceptRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxIntentBytes)).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "MalformedRequest", err.Error())
		return
	}
	if body.IntentHash != "" && body.IntentHash != hash.String() {
		respondError(w, http.StatusBadRequest, "MalformedRequest", "intent_hash does not match the path")
		return
	}
	if body.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
			respondError(w, http.StatusBadRequest, "MalformedRequest", "timestamp must be RFC 3339")
			return
		}
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(body.Signature, "0x"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "MalformedRequest", "signature must be hex")
		return
	}

	res, err := s.auctions.Accept(r.Context(), auction.AcceptRequest{IntentHash: hash, SignerID: body.SignerID, Signature: sig})
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, AcceptResponse{
		IntentHash:       res.IntentHash.String(),
		Status:           string(res.Status),
		WinningSolver:    res.WinningSolver,
		ExclusivityUntil: res.ExclusivityUntil.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	hash, ok := pathHash(w, r)
	if !ok {
		return
	}

	receipt, err := s.receipts.Project(r.Context(), hash)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Solvers: s.solvers.Len()})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, VersionResponse{
		SchemaVersion:     intent.Version,
		EventStandard:     events.Standard,
		EventVersion:      events.Version,
		CatalogSchemaHash: catalog.SchemaHash(),
		CatalogHash:       s.catalogHash,
	})
}

func pathHash(w http.ResponseWriter, r *http.Request) (intent.Hash, bool) {
	hash, err := intent.ParseHash(mux.Vars(r)["hash"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "MalformedHash", err.Error())
		return intent.Hash{}, false
	}
	return hash, true
}

// respondFailure maps coordinator and canonicalizer errors to responses.
func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	var rej *intent.Rejection
	if errors.As(err, &rej) {
		respondJSON(w, http.StatusUnprocessableEntity, RejectionResponse{Reason: string(rej.Reason), Path: rej.Path, Message: rej.Message})
		return
	}

	code, ok := auction.CodeOf(err)
	if !ok {
		s.logger.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Internal", "internal error")
		return
	}
	respondError(w, statusFor(code), string(code), err.Error())
}

func statusFor(code auction.Code) int {
	switch code {
	case auction.CodeNotFound:
		return http.StatusNotFound
	case auction.CodeDuplicateIntent,
		auction.CodeInvalidStateTransition,
		auction.CodeNoValidQuotes,
		auction.CodeExclusivityExpired,
		auction.CodeQuoteWindowClosed:
		return http.StatusConflict
	case auction.CodeNoSolversAvailable, auction.CodeWinnerDisconnected:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Code: code, Message: message})
}
