package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken(t *testing.T) {
	var got tokenRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(TokenResponse{Status: StatusOK})
	}))
	defer srv.Close()

	p := NewPaymentService(srv.URL+"/", "11", "secret")
	resp, err := p.Token(context.Background(), "card-token", 1200)
	require.NoError(t, err)

	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, tokenRequest{ShopID: "11", Token: "card-token", APIKey: "secret", Price: 1200}, got)
}

func TestTokenServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewPaymentService(srv.URL, "11", "secret").Token(context.Background(), "x", 100)
	assert.Error(t, err)
}
