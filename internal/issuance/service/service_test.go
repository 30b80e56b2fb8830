package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"iam/internal/bans"
	"iam/internal/credential/issuer"
	"iam/internal/credential/keys"
	cmodels "iam/internal/credential/models"
	"iam/internal/credential/signer"
	"iam/internal/issuance/metrics"
	"iam/internal/platform/config"
	"iam/internal/verification/models"
	"iam/internal/verification/orchestrator"
	"iam/internal/verification/platforms"
	"iam/internal/verification/providers"
	dErrors "iam/pkg/domain-errors"
	"iam/pkg/platform/audit"
)

const address = "0x1234567890123456789012345678901234567890"

// registryStub answers every check; hashes in banned are banned.
type registryStub struct {
	mu     sync.Mutex
	banned map[string]bans.Ban
	err    error
}

func (r *registryStub) CheckBans(_ context.Context, items []bans.CheckItem) ([]bans.Ban, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]bans.Ban, 0, len(items))
	for _, it := range items {
		if b, ok := r.banned[it.CredentialSubject.Provider]; ok {
			b.Hash = it.CredentialSubject.Hash
			out = append(out, b)
			continue
		}
		out = append(out, bans.Ban{Hash: it.CredentialSubject.Hash})
	}
	return out, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (e *recordingEmitter) Emit(_ context.Context, events ...audit.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, events...)
	return nil
}

func (e *recordingEmitter) actions() map[string]audit.Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := map[string]audit.Action{}
	for _, ev := range e.events {
		out[ev.Provider] = ev.Action
	}
	return out
}

// failingIssuer fails for one provider type and delegates otherwise.
type failingIssuer struct {
	CredentialIssuer
	failType string
}

func (f failingIssuer) IssueCredential(ctx context.Context, req issuer.Request) (*cmodels.Credential, error) {
	if req.Record.Type() == f.failType {
		return nil, errors.New("signer exploded")
	}
	return f.CredentialIssuer.IssueCredential(ctx, req)
}

type ServiceSuite struct {
	suite.Suite
	registry  *providers.Registry
	banStub   *registryStub
	emitter   *recordingEmitter
	metrics   *metrics.Metrics
	signer    *signer.Ed25519Signer
	issuer    *issuer.Issuer
	catalog   *platforms.Catalog
	seenMu    sync.Mutex
	seenProof map[string]map[string]string
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.registry = providers.NewRegistry()
	s.banStub = &registryStub{banned: map[string]bans.Ban{}}
	s.emitter = &recordingEmitter{}
	s.metrics = metrics.NewWith(prometheus.NewRegistry())
	s.seenProof = map[string]map[string]string{}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	jwk := signer.EncodeEd25519JWK(priv)
	s.signer, err = signer.NewEd25519(jwk)
	s.Require().NoError(err)
	km, err := keys.NewManager(config.Keys{Ed25519JWK: jwk, NumConcurrent: 1})
	s.Require().NoError(err)
	s.issuer = issuer.New(km, s.signer)

	s.catalog, err = platforms.NewCatalog([]platforms.Platform{
		{Name: "Ens", Providers: []platforms.ProviderSpec{{Type: "Ens"}}},
		{Name: "Github", Providers: []platforms.ProviderSpec{{Type: "Github"}, {Type: "GithubAccountCreationGte#90"}}},
	})
	s.Require().NoError(err)
}

func (s *ServiceSuite) register(name string, result models.VerifiedResult) {
	s.Require().NoError(s.registry.Register(providers.Func{Name: name, Fn: func(_ context.Context, p models.RequestPayload, _ *providers.Context) (*models.VerifiedResult, error) {
		s.seenMu.Lock()
		s.seenProof[name] = p.Proofs
		s.seenMu.Unlock()
		r := result
		return &r, nil
	}}))
}

func (s *ServiceSuite) service(iss CredentialIssuer) *Service {
	return New(
		orchestrator.New(s.registry),
		iss,
		bans.NewFilter(s.banStub),
		s.catalog,
		WithAudit(s.emitter),
		WithMetrics(s.metrics),
	)
}

func valid(record map[string]string) models.VerifiedResult {
	return models.VerifiedResult{Valid: true, Record: record}
}

func (s *ServiceSuite) TestAllValidIssuesEveryType() {
	s.register("Ens", valid(map[string]string{"ens": "me.eth"}))
	s.register("Github", valid(map[string]string{"id": "1"}))
	s.register("GithubAccountCreationGte#90", valid(map[string]string{"id": "1"}))

	out, err := s.service(s.issuer).VerifyProvidersAndIssueCredentials(context.Background(),
		[][]string{{"Ens"}, {"Github", "GithubAccountCreationGte#90"}}, address, models.RequestPayload{Address: address})
	s.Require().NoError(err)

	s.Require().Len(out, 3)
	providersSeen := map[string]bool{}
	for _, r := range out {
		s.Require().True(r.HasCredential())
		s.NotEmpty(r.Credential.CredentialSubject.Hash)
		s.True(strings.HasPrefix(r.Credential.CredentialSubject.Hash, "v0.0.0:"))
		s.Equal("did:pkh:eip155:1:"+address, r.Credential.CredentialSubject.ID)
		s.NoError(s.signer.Verify(*r.Credential))
		providersSeen[r.Credential.CredentialSubject.Provider] = true
	}
	s.Equal(map[string]bool{"Ens": true, "Github": true, "GithubAccountCreationGte#90": true}, providersSeen)
	s.Equal(float64(3), testutil.ToFloat64(s.metrics.CredentialsIssued.WithLabelValues("Ed25519")))
}

func (s *ServiceSuite) TestAllowListLabelRestored() {
	s.register("AllowList", valid(map[string]string{"allowList": "my-list"}))

	out, err := s.service(s.issuer).VerifyProvidersAndIssueCredentials(context.Background(),
		[][]string{{"AllowList#my-list"}}, address, models.RequestPayload{Address: address})
	s.Require().NoError(err)

	s.Require().Len(out, 1)
	s.Equal("my-list", s.seenProof["AllowList"]["allowList"])
	s.Equal("AllowList#my-list", out[0].Record.Type())
	s.Equal("AllowList#my-list", out[0].Credential.CredentialSubject.Provider)
}

func (s *ServiceSuite) TestPIIOverride() {
	s.register("Org", valid(map[string]string{"pii": "acme"}))

	out, err := s.service(s.issuer).VerifyProvidersAndIssueCredentials(context.Background(),
		[][]string{{"Org"}}, address, models.RequestPayload{Address: address})
	s.Require().NoError(err)
	s.Equal("Org#acme", out[0].Credential.CredentialSubject.Provider)
	s.Equal("0.0.0", out[0].Record["version"])
}

func (s *ServiceSuite) TestBannedCredential() {
	s.register("Github", valid(map[string]string{"id": "1"}))
	s.banStub.banned["Github"] = bans.Ban{IsBanned: true, BanType: "hash", EndTime: "2030-01-01"}

	out, err := s.service(s.issuer).VerifyProvidersAndIssueCredentials(context.Background(),
		[][]string{{"Github"}}, address, models.RequestPayload{Address: address})
	s.Require().NoError(err)

	s.Equal([]cmodels.CredentialResponseBody{{Code: 403, Error: "Credential is banned. Type=hash, End=2030-01-01"}}, out)
	s.Equal(audit.ActionCredentialBanned, s.emitter.actions()["Github"])
}

func (s *ServiceSuite) TestIssuanceFailureIsLocal() {
	s.register("Github", valid(map[string]string{"id": "1"}))
	s.register("Ens", valid(map[string]string{"ens": "me.eth"}))

	out, err := s.service(failingIssuer{CredentialIssuer: s.issuer, failType: "Github"}).VerifyProvidersAndIssueCredentials(context.Background(),
		[][]string{{"Github"}, {"Ens"}}, address, models.RequestPayload{Address: address})
	s.Require().NoError(err)

	s.Require().Len(out, 2)
	s.Equal(cmodels.CredentialResponseBody{Code: 500, Error: "Unable to produce a verifiable credential"}, out[0])
	s.True(out[1].HasCredential())
	s.Equal(audit.ActionIssuanceFailed, s.emitter.actions()["Github"])
	s.Equal(audit.ActionCredentialIssued, s.emitter.actions()["Ens"])
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.IssuanceFailures.WithLabelValues("Ed25519")))
}

func (s *ServiceSuite) TestVerificationFailuresPassThrough() {
	s.register("Github", models.VerifiedResult{Valid: false, Errors: []string{"too new"}})

	out, err := s.service(s.issuer).VerifyProvidersAndIssueCredentials(context.Background(),
		[][]string{{"Github"}, {"Unknown"}}, address, models.RequestPayload{Address: address})
	s.Require().NoError(err)

	s.Equal([]cmodels.CredentialResponseBody{
		{Code: 403, Error: "too new"},
		{Code: 400, Error: "Unable to verify provider"},
	}, out)
	s.Equal(audit.ActionVerificationFailed, s.emitter.actions()["Github"])
}

func (s *ServiceSuite) TestBanRegistryFailureFailsCall() {
	s.register("Github", valid(map[string]string{"id": "1"}))
	s.banStub.err = bans.ErrRegistryUnavailable

	_, err := s.service(s.issuer).VerifyProvidersAndIssueCredentials(context.Background(),
		[][]string{{"Github"}}, address, models.RequestPayload{Address: address})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Empty(s.emitter.events)
}

func (s *ServiceSuite) TestVerifyGroupsByCatalog() {
	s.register("Github", valid(map[string]string{"id": "1"}))
	s.register("Ens", valid(map[string]string{"ens": "me.eth"}))

	out, err := s.service(s.issuer).Verify(context.Background(), models.RequestPayload{
		Address: address,
		Types:   []string{"Github", "Ens"},
	})
	s.Require().NoError(err)
	s.Len(out, 2)

	_, err = s.service(s.issuer).Verify(context.Background(), models.RequestPayload{Address: address})
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestIssueChallenge() {
	cred, err := s.service(s.issuer).IssueChallenge(context.Background(), models.RequestPayload{Address: address, Type: "Github"})
	s.Require().NoError(err)
	s.Equal("challenge-Github", cred.CredentialSubject.Provider)
	s.NoError(s.signer.Verify(*cred))
	s.Equal(audit.ActionChallengeIssued, s.emitter.actions()["Github"])

	_, err = s.service(s.issuer).IssueChallenge(context.Background(), models.RequestPayload{Address: address})
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}
