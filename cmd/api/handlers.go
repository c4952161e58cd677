package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"signflow/access"
	"signflow/signing"
)

// server translates HTTP requests into engine calls and engine errors into
// status codes. All workflow semantics live in the signing package.
type server struct {
	engine *signing.Service
	codec  access.Codec
	log    zerolog.Logger
}

func (s *server) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/sessions", func(api chi.Router) {
		api.Post("/", s.createSession)
		api.Get("/{id}", s.getSession)
		api.Get("/{id}/events", s.listEvents)
		api.Post("/{id}/extend", s.extendExpiration)
		api.Delete("/{id}", s.cancelSession)

		// Signer-facing routes require a valid per-signer token.
		api.Group(func(g chi.Router) {
			g.Use(s.requireSignerToken)
			g.Post("/{id}/view", s.recordView)
			g.Post("/{id}/sign", s.submitSignature)
			g.Post("/{id}/decline", s.decline)
		})
	})

	return r
}

type ctxKey string

const signerEmailKey ctxKey = "signer_email"

func contextWithSignerEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, signerEmailKey, email)
}

func signerEmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(signerEmailKey).(string)
	return email
}

func (s *server) requireSignerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")
		email := strings.TrimSpace(r.URL.Query().Get("email"))
		token := strings.TrimSpace(r.URL.Query().Get("token"))
		if email == "" || !s.codec.Validate(sessionID, email, token) {
			writeError(w, http.StatusUnauthorized, "invalid signer token")
			return
		}
		ctx := contextWithSignerEmail(r.Context(), email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentRef    string                 `json:"document_ref"`
		DocumentName   string                 `json:"document_name"`
		DocumentURL    string                 `json:"document_url"`
		Signers        []signing.SignerParams `json:"signers"`
		Fields         []signing.FieldParams  `json:"fields"`
		EmailSubject   string                 `json:"email_subject"`
		EmailMessage   string                 `json:"email_message"`
		ExpirationDays int                    `json:"expiration_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	session, err := s.engine.CreateSession(r.Context(), signing.CreateParams{
		DocumentRef:    req.DocumentRef,
		DocumentName:   req.DocumentName,
		DocumentURL:    req.DocumentURL,
		Signers:        req.Signers,
		Fields:         req.Fields,
		EmailSubject:   req.EmailSubject,
		EmailMessage:   req.EmailMessage,
		ExpirationDays: req.ExpirationDays,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(session))
}

func (s *server) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.engine.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

func (s *server) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.engine.Events(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"signer_email": e.SignerEmail,
			"type":         string(e.Type),
			"occurred_at":  e.At,
			"ip":           e.IP,
			"user_agent":   e.UserAgent,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *server) recordView(w http.ResponseWriter, r *http.Request) {
	email := signerEmailFromContext(r.Context())
	err := s.engine.RecordView(r.Context(), chi.URLParam(r, "id"), email, clientIP(r), r.UserAgent())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) submitSignature(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Values []signing.FieldValue `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	err := s.engine.SubmitSignature(r.Context(), signing.SubmitParams{
		SessionID:   chi.URLParam(r, "id"),
		SignerEmail: signerEmailFromContext(r.Context()),
		Values:      req.Values,
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "signature recorded"})
}

func (s *server) decline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	err := s.engine.Decline(r.Context(), signing.DeclineParams{
		SessionID:   chi.URLParam(r, "id"),
		SignerEmail: signerEmailFromContext(r.Context()),
		Reason:      req.Reason,
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "session declined"})
}

func (s *server) extendExpiration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AdditionalDays int `json:"additional_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	found, err := s.engine.ExtendExpiration(r.Context(), chi.URLParam(r, "id"), req.AdditionalDays)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) cancelSession(w http.ResponseWriter, r *http.Request) {
	found, err := s.engine.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) writeEngineError(w http.ResponseWriter, err error) {
	var incomplete *signing.IncompleteFieldsError
	switch {
	case errors.Is(err, signing.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, signing.ErrSessionNotFound), errors.Is(err, signing.ErrSignerNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, signing.ErrAlreadySigned), errors.Is(err, signing.ErrTerminalState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, signing.ErrExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.As(err, &incomplete):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":          "required fields missing",
			"missing_fields": incomplete.Missing,
		})
	default:
		s.log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func sessionResponse(session signing.SigningSession) map[string]any {
	signers := make([]map[string]any, 0, len(session.Signers))
	for _, signer := range session.Signers {
		signers = append(signers, map[string]any{
			"email":     signer.Email,
			"name":      signer.Name,
			"role":      signer.Role,
			"status":    string(signer.Status),
			"signed_at": signer.SignedAt,
		})
	}
	fields := make([]map[string]any, 0, len(session.Fields))
	for _, f := range session.Fields {
		fields = append(fields, map[string]any{
			"id":           f.ID,
			"kind":         string(f.Kind),
			"label":        f.Label,
			"required":     f.Required,
			"page":         f.Page,
			"x":            f.X,
			"y":            f.Y,
			"width":        f.Width,
			"height":       f.Height,
			"signer_email": f.SignerEmail,
			"filled":       f.Value != nil,
		})
	}
	return map[string]any{
		"id":            session.ID,
		"document_ref":  session.DocumentRef,
		"document_name": session.DocumentName,
		"document_url":  session.DocumentURL,
		"status":        string(session.Status),
		"created_at":    session.CreatedAt,
		"expires_at":    session.ExpiresAt,
		"completed_at":  session.CompletedAt,
		"signers":       signers,
		"fields":        fields,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
