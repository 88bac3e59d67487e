package app

import (
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/platform/errors"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/broadcast"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/share"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/summary"
	"golang.org/x/net/websocket"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type handlers struct {
	service *Service
	consent *ConsentDirectory
	hub     *broadcast.Hub
}

func newHandler(service *Service, consent *ConsentDirectory, hub *broadcast.Hub) http.Handler {
	h := handlers{service: service, consent: consent, hub: hub}

	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("POST /v1/groups/{groupID}/shares", h.handleCreateShare)
	mux.HandleFunc("GET /v1/groups/{groupID}/shares", h.handleListShares)
	mux.HandleFunc("PUT /v1/groups/{groupID}/summary", h.handleRegenerateSummary)
	mux.HandleFunc("GET /v1/groups/{groupID}/summary", h.handleCurrentSummary)
	mux.HandleFunc("PUT /v1/groups/{groupID}/consent/{userID}", h.handleSetConsent)
	mux.HandleFunc("GET /v1/shares/{token}", h.handleResolveShare)
	mux.HandleFunc("POST /v1/shares/{token}/extend", h.handleExtendShare)
	mux.HandleFunc("DELETE /v1/shares/{token}", h.handleRevokeShare)
	mux.HandleFunc("POST /v1/acknowledgements", h.handleAcknowledge)
	mux.Handle("/ws", websocket.Handler(h.handleWS))

	return mux
}

type shareLinkView struct {
	Token           string     `json:"token"`
	GroupID         string     `json:"group_id"`
	CreatedBy       string     `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Visibility      string     `json:"visibility"`
	ConsentSnapshot []string   `json:"consent_snapshot,omitempty"`
	AccessCount     int64      `json:"access_count"`
}

func newShareLinkView(link share.ShareLink) shareLinkView {
	return shareLinkView{
		Token:           link.Token,
		GroupID:         link.GroupID,
		CreatedBy:       link.CreatedBy,
		CreatedAt:       link.CreatedAt,
		ExpiresAt:       link.ExpiresAt,
		Visibility:      string(link.Visibility),
		ConsentSnapshot: link.ConsentSnapshot,
		AccessCount:     link.AccessCount,
	}
}

type createShareRequest struct {
	CreatedBy     string   `json:"created_by"`
	Visibility    string   `json:"visibility"`
	ConsentGrants []string `json:"consent_grants,omitempty"`
	TTLSeconds    *int64   `json:"ttl_seconds,omitempty"`
}

func (h handlers) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	var payload createShareRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeInvalidBody(w, "invalid share payload")
		return
	}

	input := share.CreateInput{
		GroupID:       r.PathValue("groupID"),
		CreatedBy:     payload.CreatedBy,
		Visibility:    share.VisibilityMode(payload.Visibility),
		ConsentGrants: payload.ConsentGrants,
	}
	if payload.TTLSeconds != nil {
		ttl := time.Duration(*payload.TTLSeconds) * time.Second
		input.TTL = &ttl
	}

	link, err := h.service.Registry().Create(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newShareLinkView(link))
}

func (h handlers) handleListShares(w http.ResponseWriter, r *http.Request) {
	links, err := h.service.Registry().ListForGroup(r.Context(), r.PathValue("groupID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	views := make([]shareLinkView, 0, len(links))
	for _, link := range links {
		views = append(views, newShareLinkView(link))
	}
	writeJSON(w, http.StatusOK, map[string]any{"shares": views})
}

type shareViewResponse struct {
	Link                shareLinkView   `json:"link"`
	State               string          `json:"state"`
	EffectiveVisibility string          `json:"effective_visibility"`
	Summary             summary.Summary `json:"summary"`
}

func (h handlers) handleResolveShare(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Registry().Resolve(r.Context(), r.PathValue("token"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shareViewResponse{
		Link:                newShareLinkView(view.Link),
		State:               string(view.State),
		EffectiveVisibility: string(view.EffectiveVisibility),
		Summary:             view.Summary,
	})
}

type extendShareRequest struct {
	Preset string `json:"preset"`
}

func (h handlers) handleExtendShare(w http.ResponseWriter, r *http.Request) {
	var payload extendShareRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeInvalidBody(w, "invalid extend payload")
		return
	}

	link, err := h.service.Registry().Extend(r.Context(), r.PathValue("token"), share.ExtendPreset(payload.Preset))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newShareLinkView(link))
}

func (h handlers) handleRevokeShare(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Registry().Revoke(r.Context(), r.PathValue("token")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h handlers) handleRegenerateSummary(w http.ResponseWriter, r *http.Request) {
	var payload summary.Summary
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeInvalidBody(w, "invalid summary payload")
		return
	}
	payload.GroupID = r.PathValue("groupID")

	next, err := h.service.RegenerateSummary(r.Context(), payload)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": next})
}

func (h handlers) handleCurrentSummary(w http.ResponseWriter, r *http.Request) {
	current, err := h.service.CurrentSummary(r.Context(), r.PathValue("groupID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": current})
}

type setConsentRequest struct {
	OptedIn                bool `json:"opted_in"`
	HasSensitiveConditions bool `json:"has_sensitive_conditions"`
}

func (h handlers) handleSetConsent(w http.ResponseWriter, r *http.Request) {
	var payload setConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeInvalidBody(w, "invalid consent payload")
		return
	}

	groupID := strings.TrimSpace(r.PathValue("groupID"))
	userID := strings.TrimSpace(r.PathValue("userID"))
	if groupID == "" || userID == "" {
		writeInvalidBody(w, "group id and user id are required")
		return
	}
	h.consent.SetMember(groupID, share.MemberConsent{
		UserID:                 userID,
		OptedIn:                payload.OptedIn,
		HasSensitiveConditions: payload.HasSensitiveConditions,
	})
	w.WriteHeader(http.StatusNoContent)
}

type acknowledgeRequest struct {
	GroupID            string    `json:"group_id"`
	MapID              string    `json:"map_id"`
	TokenID            string    `json:"token_id"`
	ConditionKey       string    `json:"condition_key"`
	SummaryGeneratedAt time.Time `json:"summary_generated_at"`
	ActorID            string    `json:"actor_id"`
}

type acknowledgeResponse struct {
	Status            string `json:"status"`
	Code              string `json:"code,omitempty"`
	AcknowledgedCount int    `json:"acknowledged_count,omitempty"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

func (h handlers) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var payload acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeInvalidBody(w, "invalid acknowledgement payload")
		return
	}

	result, err := h.service.Acknowledge(r.Context(), AcknowledgeRequest{
		GroupID:            payload.GroupID,
		MapID:              payload.MapID,
		TokenID:            payload.TokenID,
		ConditionKey:       payload.ConditionKey,
		SummaryGeneratedAt: payload.SummaryGeneratedAt,
		ActorID:            payload.ActorID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response := acknowledgeResponse{
		Status:            string(result.Status),
		AcknowledgedCount: result.AcknowledgedCount,
		RetryAfterSeconds: retryAfterSeconds(result.RetryAfter),
	}
	if result.Status == WriteApplied {
		writeJSON(w, http.StatusOK, response)
		return
	}

	code := writeStatusCode(result.Status)
	response.Code = string(code)
	setRetryAfter(w, result.RetryAfter)
	writeJSON(w, httpStatusFromGRPC(code.GRPCCode()), response)
}

// writeStatusCode maps a non-applied write outcome to its wire code; the
// code's gRPC mapping picks the HTTP status.
func writeStatusCode(status WriteStatus) apperrors.Code {
	switch status {
	case WriteThrottled:
		return apperrors.CodeWriteThrottled
	case WriteLockedOut:
		return apperrors.CodeWriteLockedOut
	case WriteRejected:
		return apperrors.CodeWriteCircuitOpen
	case WriteStale:
		return apperrors.CodeAckSummaryStale
	default:
		return apperrors.CodeUnknown
	}
}

func retryAfterSeconds(retryAfter time.Duration) int64 {
	if retryAfter <= 0 {
		return 0
	}
	return int64(math.Ceil(retryAfter.Seconds()))
}

func setRetryAfter(w http.ResponseWriter, retryAfter time.Duration) {
	if seconds := retryAfterSeconds(retryAfter); seconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code           string                     `json:"code"`
	Message        string                     `json:"message"`
	Metadata       map[string]string          `json:"metadata,omitempty"`
	MissingConsent []share.ConsentRequirement `json:"missing_consent,omitempty"`
}

func writeInvalidBody(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{
		Code:    "INVALID_ARGUMENT",
		Message: message,
	}})
}

// writeDomainError renders domain failures from their gRPC status form so
// the HTTP envelope and the status details carry one set of facts.
func writeDomainError(w http.ResponseWriter, err error) {
	var consentErr *share.ConsentMissingError
	if errors.As(err, &consentErr) {
		writeConsentError(w, consentErr)
		return
	}
	if errors.Is(err, share.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorEnvelope{Error: errorBody{
			Code:    string(apperrors.CodeNotFound),
			Message: "share link not found",
		}})
		return
	}

	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		st := status.Convert(domainErr.ToGRPCStatus())
		body := errorBody{Code: string(apperrors.CodeUnknown), Message: st.Message()}
		for _, detail := range st.Details() {
			if info, ok := detail.(*errdetails.ErrorInfo); ok {
				body.Code = info.GetReason()
				body.Metadata = info.GetMetadata()
			}
		}
		writeJSON(w, httpStatusFromGRPC(st.Code()), errorEnvelope{Error: body})
		return
	}

	log.Printf("timers request failed error=%v", err)
	writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: errorBody{
		Code:    string(apperrors.CodeUnknown),
		Message: "internal error",
	}})
}

// writeConsentError rebuilds the missing_consent list from the status
// precondition details, keeping the wire payload on the complete-list
// contract those details enforce.
func writeConsentError(w http.ResponseWriter, consentErr *share.ConsentMissingError) {
	violations := make([]apperrors.ConsentViolation, 0, len(consentErr.Requirements))
	for _, requirement := range consentErr.Requirements {
		violations = append(violations, apperrors.ConsentViolation{
			UserID: requirement.UserID,
			Reason: requirement.Reason,
		})
	}

	st := status.Convert(apperrors.ConsentStatus(consentErr.Error(), violations))
	body := errorBody{Code: string(apperrors.CodeShareConsentMissing), Message: st.Message()}
	for _, detail := range st.Details() {
		failure, ok := detail.(*errdetails.PreconditionFailure)
		if !ok {
			continue
		}
		for _, violation := range failure.GetViolations() {
			body.MissingConsent = append(body.MissingConsent, share.ConsentRequirement{
				UserID: violation.GetSubject(),
				Reason: violation.GetDescription(),
			})
		}
	}
	writeJSON(w, httpStatusFromGRPC(st.Code()), errorEnvelope{Error: body})
}

func httpStatusFromGRPC(code codes.Code) int {
	switch code {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response failed error=%v", err)
	}
}
