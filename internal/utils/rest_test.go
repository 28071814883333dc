package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		message string
	}{
		{name: "bad request", code: http.StatusBadRequest, message: "Invalid input"},
		{name: "unauthorized", code: http.StatusUnauthorized, message: "Unauthorized"},
		{name: "not found", code: http.StatusNotFound, message: "Conversation not found"},
		{name: "internal server error", code: http.StatusInternalServerError, message: "Failed to process chat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			RespondWithError(w, tt.code, tt.message)

			if w.Code != tt.code {
				t.Errorf("RespondWithError() status = %d, want %d", w.Code, tt.code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("RespondWithError() Content-Type = %s, want application/json", ct)
			}

			var response ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if response.Error != tt.message {
				t.Errorf("RespondWithError() message = %s, want %s", response.Error, tt.message)
			}
		})
	}
}

func TestRespondWithJSON(t *testing.T) {
	w := httptest.NewRecorder()

	payload := map[string]any{"status": "ok", "service": "api"}
	if err := RespondWithJSON(w, http.StatusCreated, payload); err != nil {
		t.Fatalf("RespondWithJSON() error = %v", err)
	}

	if w.Code != http.StatusCreated {
		t.Errorf("RespondWithJSON() status = %d, want %d", w.Code, http.StatusCreated)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "ok" || response["service"] != "api" {
		t.Errorf("RespondWithJSON() body = %v", response)
	}
}

func TestRespondWithJSON_Unencodable(t *testing.T) {
	w := httptest.NewRecorder()

	if err := RespondWithJSON(w, http.StatusOK, map[string]any{"ch": make(chan int)}); err == nil {
		t.Error("RespondWithJSON() expected an error for an unencodable payload")
	}
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Model string `json:"model"`
	}

	tests := []struct {
		name      string
		input     string
		maxBytes  int64
		wantModel string
		wantErr   bool
		wantEmpty bool
	}{
		{name: "valid", input: `{"model":"m"}`, wantModel: "m"},
		{name: "empty body", input: ``, wantErr: true, wantEmpty: true},
		{name: "unknown field", input: `{"model":"m","extra":1}`, wantErr: true},
		{name: "malformed", input: `{"model":`, wantErr: true},
		{name: "trailing data", input: `{"model":"m"} {"model":"n"}`, wantErr: true},
		{name: "too large", input: `{"model":"` + strings.Repeat("x", 100) + `"}`, maxBytes: 16, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(tt.input))
			w := httptest.NewRecorder()

			var got body
			err := DecodeJSON(w, r, &got, tt.maxBytes)

			if tt.wantErr {
				if err == nil {
					t.Fatal("DecodeJSON() expected error")
				}
				if tt.wantEmpty && !errors.Is(err, ErrEmptyBody) {
					t.Errorf("DecodeJSON() error = %v, want ErrEmptyBody", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeJSON() error = %v", err)
			}
			if got.Model != tt.wantModel {
				t.Errorf("DecodeJSON() model = %s, want %s", got.Model, tt.wantModel)
			}
		})
	}
}

func TestPtr(t *testing.T) {
	p := Ptr("served-model")
	if p == nil || *p != "served-model" {
		t.Errorf("Ptr() = %v", p)
	}
	*p = "changed"
	if q := Ptr("served-model"); *q != "served-model" {
		t.Error("Ptr() shares storage between calls")
	}
}
