package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lib/pq"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/token"
)

func TestErrorTranslator_Status(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid credentials", model.NewInvalidCredentialsError(), http.StatusUnauthorized},
		{"conflict", model.NewConflictError(), http.StatusBadRequest},
		{"unauthenticated", model.NewUnauthenticatedError(""), http.StatusUnauthorized},
		{"forbidden", model.NewForbiddenError(), http.StatusForbidden},
		{"invalid token", model.NewInvalidTokenError("", nil), http.StatusUnauthorized},
		{"not found", model.NewUserNotFoundError(), http.StatusNotFound},
		{"invalid identifier", model.NewInvalidIdentifierError(nil), http.StatusBadRequest},
		{"rate limited", model.NewRateLimitedError(), http.StatusTooManyRequests},
		{"internal", model.NewInternalError(errors.New("boom")), http.StatusInternalServerError},
		{"wrapped api error", fmt.Errorf("outer: %w", model.NewConflictError()), http.StatusBadRequest},
		{"validation errors", validation.Errors{"email": errors.New("must be a valid email address")}, http.StatusBadRequest},
		{"pq unique violation", &pq.Error{Code: "23505"}, http.StatusBadRequest},
		{"pq invalid text", &pq.Error{Code: "22P02"}, http.StatusBadRequest},
		{"pq other", &pq.Error{Code: "08006"}, http.StatusInternalServerError},
		{"jwt expired", fmt.Errorf("parse: %w", jwt.ErrTokenExpired), http.StatusUnauthorized},
		{"jwt malformed", jwt.ErrTokenMalformed, http.StatusUnauthorized},
		{"codec invalid", token.ErrInvalidToken, http.StatusUnauthorized},
		{"unknown", errors.New("unexpected"), http.StatusInternalServerError},
	}

	tr := errorTranslator{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tr.translate(tt.err).status; got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestErrorTranslator_ValidationMessagesJoined(t *testing.T) {
	err := validation.Errors{
		"username": errors.New("the length must be between 3 and 30"),
		"email":    errors.New("must be a valid email address"),
	}

	got := errorTranslator{production: true}.translate(err)

	if got.detail != "email: must be a valid email address, username: the length must be between 3 and 30" {
		t.Errorf("detail = %q", got.detail)
	}
}

func TestErrorTranslator_JWTExpiredDistinctFromInvalid(t *testing.T) {
	tr := errorTranslator{}
	expired := tr.translate(jwt.ErrTokenExpired)
	invalid := tr.translate(jwt.ErrTokenSignatureInvalid)

	if expired.message == invalid.message {
		t.Errorf("expired and invalid should have different messages, both %q", expired.message)
	}
}

func TestErrorTranslator_DetailSuppressedInProduction(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.5:5432: connection refused")

	tests := []struct {
		name       string
		production bool
		err        error
		wantDetail string
	}{
		{"internal dev", false, model.NewInternalError(cause), cause.Error()},
		{"internal prod", true, model.NewInternalError(cause), msgServerErrorShort},
		{"unknown dev", false, cause, cause.Error()},
		{"unknown prod", true, cause, msgServerErrorShort},
		{"invalid token dev", false, model.NewInvalidTokenError("", cause), cause.Error()},
		{"invalid token prod", true, model.NewInvalidTokenError("", cause), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errorTranslator{production: tt.production}.translate(tt.err)
			if got.detail != tt.wantDetail {
				t.Errorf("detail = %q, want %q", got.detail, tt.wantDetail)
			}
		})
	}
}

func TestErrorTranslator_WriteEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/auth/profile-jwt", nil)

	errorTranslator{production: true}.write(w, r, errors.New("secret internals"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if strings.Contains(w.Body.String(), "secret internals") {
		t.Errorf("production response leaked error: %s", w.Body.String())
	}
	body := decodeBody(t, w)
	if body["success"] != false || body["message"] != msgServerError {
		t.Errorf("unexpected body: %v", body)
	}
}
