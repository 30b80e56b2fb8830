package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"iam/internal/verification/models"
	"iam/internal/verification/providers"
)

type HTTPCheckSuite struct {
	suite.Suite
}

func TestHTTPCheckSuite(t *testing.T) {
	suite.Run(t, new(HTTPCheckSuite))
}

func (s *HTTPCheckSuite) newCheck(handler http.HandlerFunc, timeout time.Duration) *HTTPCheck {
	srv := httptest.NewServer(handler)
	s.T().Cleanup(srv.Close)
	return NewHTTPCheck(HTTPCheckConfig{
		Type:    "Github",
		BaseURL: srv.URL,
		APIKey:  "upstream-key",
		Timeout: timeout,
	})
}

func (s *HTTPCheckSuite) payload() models.RequestPayload {
	return models.RequestPayload{
		Type:    "Github",
		Address: "0x0000000000000000000000000000000000000001",
		Proofs:  map[string]string{"code": "oauth-code"},
	}
}

func (s *HTTPCheckSuite) TestValidResult() {
	check := s.newCheck(func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/verify", r.URL.Path)
		s.Equal("upstream-key", r.Header.Get("X-API-Key"))

		var body checkRequest
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&body))
		s.Equal("Github", body.Type)
		s.Equal("oauth-code", body.Proofs["code"])

		_, _ = w.Write([]byte(`{"valid":true,"record":{"id":"1234"},"expiresInSeconds":600}`))
	}, time.Second)

	result, err := check.Verify(context.Background(), s.payload(), providers.NewContext())
	s.Require().NoError(err)
	s.True(result.Valid)
	s.Equal("1234", result.Record["id"])
	s.Equal(600, result.ExpiresInSeconds)
	s.False(result.TimedOut)
}

func (s *HTTPCheckSuite) TestInvalidResultCarriesErrors() {
	check := s.newCheck(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"valid":false,"errors":["Account too young"]}`))
	}, time.Second)

	result, err := check.Verify(context.Background(), s.payload(), providers.NewContext())
	s.Require().NoError(err)
	s.False(result.Valid)
	s.Equal([]string{"Account too young"}, result.Errors)
}

func (s *HTTPCheckSuite) TestDeadlineYieldsTimedOutResult() {
	release := make(chan struct{})
	check := s.newCheck(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 20*time.Millisecond)
	defer close(release)

	result, err := check.Verify(context.Background(), s.payload(), providers.NewContext())
	s.Require().NoError(err)
	s.True(result.TimedOut)
	s.Equal([]string{"Request timeout while verifying Github."}, result.Errors)
}

func (s *HTTPCheckSuite) TestUpstreamGatewayTimeout() {
	check := s.newCheck(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
	}, time.Second)

	result, err := check.Verify(context.Background(), s.payload(), providers.NewContext())
	s.Require().NoError(err)
	s.True(result.TimedOut)
}

func (s *HTTPCheckSuite) TestErrorCategories() {
	tests := []struct {
		name     string
		status   int
		body     string
		category providers.ErrorCategory
	}{
		{"unauthorized", http.StatusUnauthorized, "", providers.ErrorAuthentication},
		{"rate limited", http.StatusTooManyRequests, "", providers.ErrorRateLimited},
		{"outage", http.StatusBadGateway, "", providers.ErrorProviderOutage},
		{"not found", http.StatusNotFound, "", providers.ErrorBadData},
		{"garbage", http.StatusOK, "not json", providers.ErrorBadData},
		{"valid without facts", http.StatusOK, `{"valid":true,"record":{"id":""}}`, providers.ErrorBadData},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			check := s.newCheck(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, time.Second)

			_, err := check.Verify(context.Background(), s.payload(), providers.NewContext())
			s.Require().Error(err)
			s.Equal(tt.category, providers.GetCategory(err))
		})
	}
}
