package bans

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iam/pkg/platform/circuit"
)

func TestClientCheckBans(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/internal/check-bans", r.URL.Path)
		assert.Equal(t, "scorer-key", r.Header.Get("Authorization"))

		var items []CheckItem
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&items)) {
			return
		}
		out := make([]Ban, 0, len(items))
		for _, it := range items {
			out = append(out, Ban{Hash: it.CredentialSubject.Hash, IsBanned: it.CredentialSubject.Provider == "Ens", BanType: "hash"})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "scorer-key", time.Second)
	bans, err := c.CheckBans(context.Background(), []CheckItem{
		{CredentialSubject: CheckSubject{Hash: "a", Provider: "Github"}},
		{CredentialSubject: CheckSubject{Hash: "b", Provider: "Ens"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []Ban{{Hash: "a", BanType: "hash"}, {Hash: "b", IsBanned: true, BanType: "hash"}}, bans)
}

func TestClientFailuresAreUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", time.Second, WithBreaker(circuit.New("bans", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))))
	items := []CheckItem{{CredentialSubject: CheckSubject{Hash: "a"}}}

	for range 3 {
		_, err := c.CheckBans(context.Background(), items)
		assert.ErrorIs(t, err, ErrRegistryUnavailable)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"not":"a list"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", time.Second).CheckBans(context.Background(), []CheckItem{{}})
	assert.ErrorIs(t, err, ErrRegistryUnavailable)
}
