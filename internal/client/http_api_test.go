package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/walletauth/internal/model"
)

func TestHTTPAPI_IssueChallenge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/auth" {
			t.Errorf("request = %s %s, want GET /api/auth", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(model.ChallengeResponse{Nonce: "abc123"})
	}))
	defer server.Close()

	api := NewHTTPAPI(server.Client(), discardLogger(), server.URL+"/")
	resp, err := api.IssueChallenge(context.Background())
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	if resp.Nonce != "abc123" {
		t.Errorf("Nonce = %q, want abc123", resp.Nonce)
	}
}

func TestHTTPAPI_IssueChallenge_ServerFailureBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(model.ChallengeResponse{Nonce: "", Error: "Failed to generate nonce"})
	}))
	defer server.Close()

	api := NewHTTPAPI(server.Client(), discardLogger(), server.URL)
	resp, err := api.IssueChallenge(context.Background())
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	if resp.Nonce != "" || resp.Error != "Failed to generate nonce" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHTTPAPI_VerifyChallenge_SendsNonceAndProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if string(body["nonce"]) != `"abc123"` {
			t.Errorf("nonce = %s", body["nonce"])
		}
		var data model.NewUserData
		json.Unmarshal(body["new_user_data"], &data)
		if data.WalletAddress != "0xdef" || data.FirstName != "Jo" {
			t.Errorf("new_user_data = %+v", data)
		}
		json.NewEncoder(w).Encode(model.VerifyResponse{Authenticated: true, WalletAddress: "0xdef"})
	}))
	defer server.Close()

	api := NewHTTPAPI(server.Client(), discardLogger(), server.URL)
	resp, err := api.VerifyChallenge(context.Background(), "abc123", &model.NewUserData{WalletAddress: "0xdef", FirstName: "Jo"})
	if err != nil {
		t.Fatalf("VerifyChallenge: %v", err)
	}
	if !resp.Authenticated || resp.WalletAddress != "0xdef" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHTTPAPI_VerifyChallenge_StatusHandling(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  error
		wantCode string
	}{
		{
			name:     "forbidden carries result",
			status:   http.StatusForbidden,
			body:     `{"authenticated":false,"error":"Custom validation failed","code":"CUSTOM_VALIDATION_FAILED"}`,
			wantCode: model.ErrCodeCustomValidationFailed,
		},
		{
			name:    "bad gateway without json",
			status:  http.StatusBadGateway,
			body:    "upstream down",
			wantErr: model.ErrOracleUnavailable,
		},
		{
			name:    "html with accepted status",
			status:  http.StatusOK,
			body:    "<html></html>",
			wantErr: model.ErrOracleUnavailable,
		},
		{
			name:    "unified error body",
			status:  http.StatusBadRequest,
			body:    `{"code":"VALIDATION_ERROR","message":"nonce is required"}`,
			wantErr: model.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			api := NewHTTPAPI(server.Client(), discardLogger(), server.URL)
			resp, err := api.VerifyChallenge(context.Background(), "n", nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestHTTPAPI_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	api := NewHTTPAPI(nil, discardLogger(), url)
	if _, err := api.IssueChallenge(context.Background()); !errors.Is(err, model.ErrOracleUnavailable) {
		t.Errorf("error = %v, want ErrOracleUnavailable", err)
	}
}
