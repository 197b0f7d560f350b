package jwtx_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestFetchJWKS(t *testing.T) {
	signer := newSigner(t, "k1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jwtx.JWKS{Keys: []jwtx.JWK{signer.PublicJWK()}})
	}))
	defer srv.Close()

	set, err := jwtx.FetchJWKS(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	require.Len(t, set.Keys, 1)

	keys := jwtx.NewKeySet()
	require.NoError(t, keys.Replace(set))
	_, err = keys.Get("k1")
	require.NoError(t, err)
}

func TestFetchJWKS_Errors(t *testing.T) {
	t.Run("bad status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		_, err := jwtx.FetchJWKS(context.Background(), srv.Client(), srv.URL)
		require.Error(t, err)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()
		client := &http.Client{Timeout: 50 * time.Millisecond}
		_, err := jwtx.FetchJWKS(context.Background(), client, srv.URL)
		require.Error(t, err)
	})
}

func TestKeySetReplaceKeepsOldKeysOnError(t *testing.T) {
	keys := jwtx.NewKeySet()
	require.NoError(t, keys.AddSigner(newSigner(t, "good")))

	err := keys.Replace(jwtx.JWKS{Keys: []jwtx.JWK{{Kty: "oct", Kid: "bad"}}})
	require.Error(t, err)

	// Previous keys survive a failed reset.
	_, err = keys.Get("good")
	require.NoError(t, err)
}
