package handler

//go:generate mockgen -source=handler.go -destination=mocks/handler_mock.go -package=mocks Service TokenValidator

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"iam/internal/credential/issuer"
	"iam/internal/credential/keys"
	cmodels "iam/internal/credential/models"
	"iam/internal/credential/signer"
	"iam/internal/credential/wallet"
	"iam/internal/issuance/handler/mocks"
	"iam/internal/platform/config"
	"iam/internal/verification/models"
	dErrors "iam/pkg/domain-errors"
)

type HandlerSuite struct {
	suite.Suite
	router      http.Handler
	ctrl        *gomock.Controller
	mockService *mocks.MockService
	mockTokens  *mocks.MockTokenValidator
	issuer      *issuer.Issuer
	key         *ecdsa.PrivateKey
	address     string
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockService = mocks.NewMockService(s.ctrl)
	s.mockTokens = mocks.NewMockTokenValidator(s.ctrl)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	jwk := signer.EncodeEd25519JWK(priv)
	ed, err := signer.NewEd25519(jwk)
	s.Require().NoError(err)
	km, err := keys.NewManager(config.Keys{Ed25519JWK: jwk, NumConcurrent: 1})
	s.Require().NoError(err)
	s.issuer = issuer.New(km, ed)

	s.key, err = wallet.GenerateKey()
	s.Require().NoError(err)
	s.address = wallet.Address(&s.key.PublicKey)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := New(s.mockService, signer.NewProofVerifier(ed, nil), logger).WithTokenValidator(s.mockTokens)

	r := chi.NewRouter()
	h.Register(r)
	s.router = r
}

func (s *HandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *HandlerSuite) post(path string, body any, authHeader string) *httptest.ResponseRecorder {
	raw, err := json.Marshal(body)
	s.Require().NoError(err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) challenge(addr, providerType string) *cmodels.Credential {
	cred, err := s.issuer.IssueChallenge(context.Background(), issuer.ChallengeRequest{Address: addr, Type: providerType})
	s.Require().NoError(err)
	return cred
}

// signedVerify builds a verify body whose challenge is signed by the suite wallet.
func (s *HandlerSuite) signedVerify(cred *cmodels.Credential, payload models.RequestPayload) VerifyRequest {
	sig, err := wallet.Sign(s.key, cred.CredentialSubject.Challenge)
	s.Require().NoError(err)
	return VerifyRequest{Challenge: cred, SignedChallenge: sig, Payload: payload}
}

func issued(providerType string) cmodels.CredentialResponseBody {
	return cmodels.CredentialResponseBody{
		Record:     cmodels.NewFactRecord(providerType, map[string]string{"id": "1"}),
		Credential: &cmodels.Credential{CredentialSubject: cmodels.CredentialSubject{Provider: providerType}},
	}
}

func (s *HandlerSuite) errorBody(rec *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func (s *HandlerSuite) TestInvalidJSON() {
	req := httptest.NewRequest(http.MethodPost, "/api/v0.0.0/verify", bytes.NewReader([]byte("not valid json")))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestChallenge() {
	cred := s.challenge(s.address, "Github")
	s.mockService.EXPECT().
		IssueChallenge(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p models.RequestPayload) (*cmodels.Credential, error) {
			s.Equal(s.address, p.Address)
			s.Equal("Github", p.Type)
			return cred, nil
		})

	rec := s.post("/api/v0.0.0/challenge", ChallengeRequest{Payload: models.RequestPayload{Address: " " + s.address + " ", Type: "Github"}}, "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var body ChallengeResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("challenge-Github", body.Credential.CredentialSubject.Provider)
}

func (s *HandlerSuite) TestChallengeRejectsIncompletePayload() {
	rec := s.post("/api/v0.0.0/challenge", ChallengeRequest{Payload: models.RequestPayload{Address: s.address}}, "")
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("Unable to verify payload", s.errorBody(rec)["error"])

	rec = s.post("/api/v0.0.0/challenge", ChallengeRequest{Payload: models.RequestPayload{Address: "0x12", Type: "Github"}}, "")
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("address must be a valid ethereum address", s.errorBody(rec)["error"])
}

func (s *HandlerSuite) TestVerifyWithChallenge() {
	s.mockService.EXPECT().
		Verify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p models.RequestPayload) ([]cmodels.CredentialResponseBody, error) {
			s.Equal(s.address, p.Address)
			s.Equal([]string{"Github", "GithubAccountCreationGte#90"}, p.Types)
			return []cmodels.CredentialResponseBody{issued("Github"), issued("GithubAccountCreationGte#90")}, nil
		})

	rec := s.post("/api/v0.0.0/verify", s.signedVerify(s.challenge(s.address, "Github"), models.RequestPayload{
		Address: s.address,
		Type:    "Github",
		Types:   []string{"Github", " ", "GithubAccountCreationGte#90"},
	}), "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var body []cmodels.CredentialResponseBody
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Len(body, 2)
}

func (s *HandlerSuite) TestVerifyIssuesToRecoveredSigner() {
	s.mockService.EXPECT().
		Verify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p models.RequestPayload) ([]cmodels.CredentialResponseBody, error) {
			s.Equal(s.address, p.Address)
			return []cmodels.CredentialResponseBody{issued("Github")}, nil
		})

	claimed := "0x9999999999999999999999999999999999999999"
	rec := s.post("/api/v0.0.0/verify", s.signedVerify(s.challenge(s.address, "Github"),
		models.RequestPayload{Address: claimed, Type: "Github"}), "")
	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerSuite) TestVerifyMissingChallenge() {
	rec := s.post("/api/v0.0.0/verify", VerifyRequest{Payload: models.RequestPayload{Address: s.address, Type: "Github"}}, "")
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("Missing challenge - provide either JWT token or challenge credential", s.errorBody(rec)["error"])
}

func (s *HandlerSuite) TestVerifyRequiresWalletSignature() {
	rec := s.post("/api/v0.0.0/verify", VerifyRequest{
		Challenge: s.challenge(s.address, "Github"),
		Payload:   models.RequestPayload{Address: s.address, Type: "Github"},
	}, "")
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("Missing signedChallenge", s.errorBody(rec)["error"])

	rec = s.post("/api/v0.0.0/verify", VerifyRequest{
		Challenge:       s.challenge(s.address, "Github"),
		SignedChallenge: "0xdeadbeef",
		Payload:         models.RequestPayload{Address: s.address, Type: "Github"},
	}, "")
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("Unable to verify payload signer", s.errorBody(rec)["error"])
}

func (s *HandlerSuite) TestVerifyRejectsChallengeForAnotherWallet() {
	// A challenge fetched for someone else's address, signed with our wallet.
	victim := "0x9999999999999999999999999999999999999999"
	rec := s.post("/api/v0.0.0/verify", s.signedVerify(s.challenge(victim, "Github"),
		models.RequestPayload{Address: victim, Type: "Github"}), "")
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("Invalid challenge 'signer'", s.errorBody(rec)["error"])
}

func (s *HandlerSuite) TestVerifyRejectsMismatchedChallenge() {
	other := "0x0000000000000000000000000000000000000001"
	rec := s.post("/api/v0.0.0/verify", s.signedVerify(s.challenge(other, "Ens"),
		models.RequestPayload{Address: s.address, Type: "Github"}), "")
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("Invalid challenge 'signer' and 'provider'", s.errorBody(rec)["error"])

	rec = s.post("/api/v0.0.0/verify", s.signedVerify(s.challenge(s.address, "Ens"),
		models.RequestPayload{Address: s.address, Type: "Github"}), "")
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("Invalid challenge 'provider'", s.errorBody(rec)["error"])
}

func (s *HandlerSuite) TestVerifyAcceptsChecksummedChallengeAddress() {
	s.mockService.EXPECT().Verify(gomock.Any(), gomock.Any()).
		Return([]cmodels.CredentialResponseBody{issued("Github")}, nil)

	upper := "0x" + strings.ToUpper(s.address[2:])
	rec := s.post("/api/v0.0.0/verify", s.signedVerify(s.challenge(upper, "Github"),
		models.RequestPayload{Address: upper, Type: "Github"}), "")
	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerSuite) TestVerifyRejectsTamperedChallenge() {
	cred := s.challenge(s.address, "Github")
	cred.ExpirationDate = "2999-01-01T00:00:00.000Z"

	rec := s.post("/api/v0.0.0/verify", s.signedVerify(cred,
		models.RequestPayload{Address: s.address, Type: "Github"}), "")
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("Invalid challenge", s.errorBody(rec)["error"])
}

func (s *HandlerSuite) TestVerifyWithScorerToken() {
	tokenAddress := "0xabcdef0123456789abcdef0123456789abcdef01"
	s.mockTokens.EXPECT().AddressFromToken("good-token").Return(tokenAddress, nil)
	s.mockService.EXPECT().
		Verify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p models.RequestPayload) ([]cmodels.CredentialResponseBody, error) {
			s.Equal(tokenAddress, p.Address)
			return []cmodels.CredentialResponseBody{issued("Github")}, nil
		})

	rec := s.post("/api/v0.0.0/verify", VerifyRequest{
		Payload: models.RequestPayload{Address: s.address, Types: []string{"Github"}},
	}, "Bearer good-token")
	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerSuite) TestInvalidScorerTokenFallsBackToChallenge() {
	s.mockTokens.EXPECT().AddressFromToken("bad-token").Return("", dErrors.New(dErrors.CodeUnauthorized, "invalid token"))
	s.mockService.EXPECT().Verify(gomock.Any(), gomock.Any()).
		Return([]cmodels.CredentialResponseBody{issued("Github")}, nil)

	rec := s.post("/api/v0.0.0/verify", s.signedVerify(s.challenge(s.address, "Github"),
		models.RequestPayload{Address: s.address, Type: "Github"}), "Bearer bad-token")
	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerSuite) TestSingleFailedTypeUsesItsStatus() {
	s.mockService.EXPECT().Verify(gomock.Any(), gomock.Any()).
		Return([]cmodels.CredentialResponseBody{{Code: http.StatusForbidden, Error: "You need a Github account"}}, nil)

	rec := s.post("/api/v0.0.0/verify", s.signedVerify(s.challenge(s.address, "Github"),
		models.RequestPayload{Address: s.address, Type: "Github"}), "")
	s.Equal(http.StatusForbidden, rec.Code)
	body := s.errorBody(rec)
	s.Equal("You need a Github account", body["error"])
	s.EqualValues(http.StatusForbidden, body["code"])
}

func (s *HandlerSuite) TestBanServiceFailure() {
	s.mockService.EXPECT().Verify(gomock.Any(), gomock.Any()).
		Return(nil, dErrors.Wrap(errors.New("connection refused"), dErrors.CodeUnavailable, "ban registry unavailable"))

	rec := s.post("/api/v0.0.0/verify", s.signedVerify(s.challenge(s.address, "Github"),
		models.RequestPayload{Address: s.address, Type: "Github"}), "")
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.Equal("ban registry unavailable", s.errorBody(rec)["error"])
}

func (s *HandlerSuite) TestVerifyRequiresTypes() {
	rec := s.post("/api/v0.0.0/verify", VerifyRequest{
		Payload: models.RequestPayload{Address: s.address, Types: []string{" "}},
	}, "")
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("Invalid payload", s.errorBody(rec)["error"])
}
