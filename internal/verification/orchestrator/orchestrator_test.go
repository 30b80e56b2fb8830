package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"iam/internal/platform/tracer"
	"iam/internal/verification/metrics"
	"iam/internal/verification/models"
	"iam/internal/verification/providers"
)

type OrchestratorSuite struct {
	suite.Suite
	registry *providers.Registry
	recorder *tracer.Recorder
	metrics  *metrics.Metrics
	orch     *Orchestrator
	calls    *sync.Map
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.registry = providers.NewRegistry()
	s.recorder = tracer.NewRecorder()
	s.metrics = metrics.NewWith(prometheus.NewRegistry())
	s.calls = &sync.Map{}
	s.orch = New(s.registry, WithTracer(s.recorder), WithMetrics(s.metrics))
}

func (s *OrchestratorSuite) register(name string, fn func(context.Context, models.RequestPayload, *providers.Context) (*models.VerifiedResult, error)) {
	s.Require().NoError(s.registry.Register(providers.Func{Name: name, Fn: func(ctx context.Context, p models.RequestPayload, pctx *providers.Context) (*models.VerifiedResult, error) {
		n, _ := s.calls.LoadOrStore(name, new(atomic.Int32))
		n.(*atomic.Int32).Add(1)
		return fn(ctx, p, pctx)
	}}))
}

func (s *OrchestratorSuite) called(name string) int {
	n, ok := s.calls.Load(name)
	if !ok {
		return 0
	}
	return int(n.(*atomic.Int32).Load())
}

func valid(id string) func(context.Context, models.RequestPayload, *providers.Context) (*models.VerifiedResult, error) {
	return func(context.Context, models.RequestPayload, *providers.Context) (*models.VerifiedResult, error) {
		return &models.VerifiedResult{Valid: true, Record: map[string]string{"id": id}}, nil
	}
}

func invalid(errs ...string) func(context.Context, models.RequestPayload, *providers.Context) (*models.VerifiedResult, error) {
	return func(context.Context, models.RequestPayload, *providers.Context) (*models.VerifiedResult, error) {
		return &models.VerifiedResult{Valid: false, Errors: errs}, nil
	}
}

func timedOut(providerType string) func(context.Context, models.RequestPayload, *providers.Context) (*models.VerifiedResult, error) {
	return func(context.Context, models.RequestPayload, *providers.Context) (*models.VerifiedResult, error) {
		return &models.VerifiedResult{Valid: false, TimedOut: true, Errors: []string{providers.TimeoutMessage(providerType)}}, nil
	}
}

var payload = models.RequestPayload{Address: "0x1234567890123456789012345678901234567890", Version: "0.0.0"}

func (s *OrchestratorSuite) TestResultsFollowGroupOrder() {
	s.register("Github", valid("gh"))
	s.register("Google", valid("g"))
	s.register("Twitter", invalid("not enough followers"))

	results := s.orch.VerifyTypes(context.Background(), [][]string{{"Github"}, {"Twitter", "Google"}}, payload)

	s.Require().Len(results, 3)
	s.Equal("Github", results[0].Type)
	s.True(results[0].Verified())
	s.Equal(0, results[0].Code)
	s.Equal("Twitter", results[1].Type)
	s.Equal(OutcomeRejected, results[1].Outcome)
	s.Equal(403, results[1].Code)
	s.Equal("not enough followers", results[1].Error)
	s.Equal("Google", results[2].Type)
	s.True(results[2].Verified())
}

func (s *OrchestratorSuite) TestEmptyGroups() {
	s.Empty(s.orch.VerifyTypes(context.Background(), nil, payload))
}

func (s *OrchestratorSuite) TestRejectedJoinsAndTruncatesErrors() {
	s.register("A", invalid("first", "second"))
	s.register("B", invalid(strings.Repeat("x", 800), strings.Repeat("y", 800)))
	s.register("C", invalid())

	results := s.orch.VerifyTypes(context.Background(), [][]string{{"A"}, {"B"}, {"C"}}, payload)

	s.Equal("first, second", results[0].Error)
	s.Len(results[1].Error, MaxErrorLength)
	s.True(strings.HasPrefix(results[1].Error, strings.Repeat("x", 800)+", "))
	s.Equal("Unable to verify provider", results[2].Error)
}

func (s *OrchestratorSuite) TestProviderErrorIsExecutionFailure() {
	s.register("Broken", func(context.Context, models.RequestPayload, *providers.Context) (*models.VerifiedResult, error) {
		return nil, providers.NewProviderError(providers.ErrorProviderOutage, "Broken", "upstream 502", nil)
	})
	s.register("NilResult", func(context.Context, models.RequestPayload, *providers.Context) (*models.VerifiedResult, error) {
		return nil, nil
	})

	results := s.orch.VerifyTypes(context.Background(), [][]string{{"Broken"}, {"NilResult"}, {"Unknown"}}, payload)

	for _, r := range results {
		s.Equal(OutcomeFailed, r.Outcome, r.Type)
		s.Equal(400, r.Code)
		s.Equal("Unable to verify provider", r.Error)
		s.False(r.Result.Valid)
	}
}

func (s *OrchestratorSuite) TestPanicIsContained() {
	s.register("Panics", func(context.Context, models.RequestPayload, *providers.Context) (*models.VerifiedResult, error) {
		panic("boom")
	})
	s.register("Fine", valid("ok"))

	results := s.orch.VerifyTypes(context.Background(), [][]string{{"Panics", "Fine"}}, payload)

	s.Require().Len(results, 2)
	s.Equal(OutcomeFailed, results[0].Outcome)
	s.Equal(400, results[0].Code)
	s.True(results[1].Verified())

	spans := s.recorder.Named(tracer.SpanVerifyProvider)
	s.Require().Len(spans, 2)
	s.Error(spans[0].Err)
}

func (s *OrchestratorSuite) TestFailingGroupDoesNotAffectOthers() {
	s.register("Throws", func(context.Context, models.RequestPayload, *providers.Context) (*models.VerifiedResult, error) {
		return nil, errors.New("upstream exploded")
	})
	s.register("Panics", func(context.Context, models.RequestPayload, *providers.Context) (*models.VerifiedResult, error) {
		panic("boom")
	})
	s.register("Ens", valid("ens"))
	s.register("Google", valid("google"))

	groups := [][]string{{"Throws", "Panics"}, {"Ens"}, {"Google"}}
	results := s.orch.VerifyTypes(context.Background(), groups, payload)

	s.Require().Len(results, 4)
	s.Equal(OutcomeFailed, results[0].Outcome)
	s.Equal(OutcomeFailed, results[1].Outcome)
	s.Equal(OutcomeVerified, results[2].Outcome)
	s.Equal("ens", results[2].Result.Record["id"])
	s.Equal(OutcomeVerified, results[3].Outcome)
	s.Equal(1, s.called("Ens"))
	s.Equal(1, s.called("Google"))

	// The same groups without the failing one give identical results.
	s.SetupTest()
	s.register("Ens", valid("ens"))
	s.register("Google", valid("google"))
	alone := s.orch.VerifyTypes(context.Background(), groups[1:], payload)
	s.Equal(alone, results[2:])
}

func (s *OrchestratorSuite) TestTimeoutSkipsRestOfGroup() {
	s.register("ETHGasSpent", timedOut("ETHGasSpent"))
	s.register("ETHDaysActive", valid("days"))
	s.register("ETHNonce", valid("nonce"))
	s.register("Github", valid("gh"))

	results := s.orch.VerifyTypes(context.Background(), [][]string{{"ETHGasSpent", "ETHDaysActive", "ETHNonce"}, {"Github"}}, payload)

	s.Require().Len(results, 4)
	msg := "Request timeout while verifying ETHGasSpent."

	s.Equal(OutcomeTimedOut, results[0].Outcome)
	s.Equal(403, results[0].Code)
	s.Equal(msg, results[0].Error)
	for _, r := range results[1:3] {
		s.Equal(OutcomeSkipped, r.Outcome, r.Type)
		s.Equal(403, r.Code)
		s.Equal(msg, r.Error)
		s.False(r.Result.Valid)
	}
	s.True(results[3].Verified())

	s.Equal(0, s.called("ETHDaysActive"))
	s.Equal(0, s.called("ETHNonce"))
	s.Equal(1, s.called("Github"))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.GroupsSkippedTotal.WithLabelValues("ETHNonce")))
}

func (s *OrchestratorSuite) TestContextSharedWithinGroupOnly() {
	s.register("Writer", func(_ context.Context, _ models.RequestPayload, pctx *providers.Context) (*models.VerifiedResult, error) {
		pctx.Set("shared", "token", "abc")
		return &models.VerifiedResult{Valid: true, Record: map[string]string{"id": "w"}}, nil
	})
	s.register("Reader", func(_ context.Context, _ models.RequestPayload, pctx *providers.Context) (*models.VerifiedResult, error) {
		v, ok := pctx.GetString("shared", "token")
		if !ok {
			return &models.VerifiedResult{Valid: false, Errors: []string{"missing token"}}, nil
		}
		return &models.VerifiedResult{Valid: true, Record: map[string]string{"id": v}}, nil
	})

	results := s.orch.VerifyTypes(context.Background(), [][]string{{"Writer", "Reader"}, {"Reader"}}, payload)

	s.Require().Len(results, 3)
	s.True(results[1].Verified())
	s.Equal("abc", results[1].Result.Record["id"])
	s.Equal(OutcomeRejected, results[2].Outcome)
	s.Equal("missing token", results[2].Error)
}

func (s *OrchestratorSuite) TestParameterizedTypesKeepOriginalLabel() {
	var seen models.RequestPayload
	s.register(providers.TypeAllowList, func(_ context.Context, p models.RequestPayload, _ *providers.Context) (*models.VerifiedResult, error) {
		seen = p
		return &models.VerifiedResult{Valid: true, Record: map[string]string{"allowList": p.Proofs[models.ProofAllowList]}}, nil
	})

	results := s.orch.VerifyTypes(context.Background(), [][]string{{"AllowList#testList"}}, payload)

	s.Require().Len(results, 1)
	s.Equal("AllowList#testList", results[0].Type)
	s.True(results[0].Verified())
	s.Equal("AllowList", seen.Type)
	s.Equal("testList", seen.Proofs[models.ProofAllowList])
}

func (s *OrchestratorSuite) TestInvalidLabelFailsWithoutCallingProvider() {
	s.register(providers.TypeAllowList, valid("x"))

	results := s.orch.VerifyTypes(context.Background(), [][]string{{"AllowList#"}}, payload)

	s.Require().Len(results, 1)
	s.Equal(OutcomeFailed, results[0].Outcome)
	s.Equal(400, results[0].Code)
	s.Equal(0, s.called(providers.TypeAllowList))
}

func (s *OrchestratorSuite) TestGroupsRunConcurrently() {
	release := make(chan struct{})
	var started atomic.Int32
	blocking := func(context.Context, models.RequestPayload, *providers.Context) (*models.VerifiedResult, error) {
		if started.Add(1) == 2 {
			close(release)
		}
		select {
		case <-release:
		case <-time.After(2 * time.Second):
			return nil, errors.New("groups ran serially")
		}
		return &models.VerifiedResult{Valid: true, Record: map[string]string{"id": "x"}}, nil
	}
	s.register("A", blocking)
	s.register("B", blocking)

	results := s.orch.VerifyTypes(context.Background(), [][]string{{"A"}, {"B"}}, payload)

	s.True(results[0].Verified())
	s.True(results[1].Verified())
}

func (s *OrchestratorSuite) TestRecordsOutcomeMetrics() {
	s.register("Github", valid("gh"))
	s.register(providers.TypeAllowList, invalid("not listed"))

	s.orch.VerifyTypes(context.Background(), [][]string{{"Github"}, {"AllowList#a", "AllowList#b"}}, payload)

	s.Equal(float64(1), testutil.ToFloat64(s.metrics.VerificationsTotal.WithLabelValues("Github", "verified")))
	s.Equal(float64(2), testutil.ToFloat64(s.metrics.VerificationsTotal.WithLabelValues("AllowList", "rejected")))
	s.Len(s.recorder.Named(tracer.SpanVerifyGroup), 2)
	s.Len(s.recorder.Named(tracer.SpanVerify), 1)
}
