package publisher

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	dErrors "iam/pkg/domain-errors"
	"iam/pkg/platform/audit"
	"iam/pkg/platform/audit/outbox/store/memory"
)

type PublisherSuite struct {
	suite.Suite
	store *memory.Store
}

func TestPublisherSuite(t *testing.T) {
	suite.Run(t, new(PublisherSuite))
}

func (s *PublisherSuite) SetupTest() {
	s.store = memory.New()
}

func (s *PublisherSuite) TestSyncEmitWritesOneEntryPerEvent() {
	p := New(s.store)

	err := p.Emit(context.Background(),
		audit.Event{
			Action:         audit.ActionCredentialIssued,
			Provider:       "Github",
			CredentialHash: "v0.0.0:abc",
			Subject:        "0x1234…abcd",
			RequestID:      "req-1",
		},
		audit.Event{Action: audit.ActionCredentialBanned, Provider: "Ens", RequestID: "req-1"},
	)
	s.Require().NoError(err)

	entries, err := s.store.Claim(context.Background(), 10, 1)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)

	byProvider := map[string]int{}
	for i, e := range entries {
		byProvider[e.Provider] = i
		s.Equal("req-1", e.RequestID)
	}
	github := entries[byProvider["Github"]]
	s.Equal(string(audit.ActionCredentialIssued), github.Action)

	var decoded audit.Event
	s.Require().NoError(json.Unmarshal(github.Payload, &decoded))
	s.Equal("v0.0.0:abc", decoded.CredentialHash)
	s.False(decoded.Timestamp.IsZero())
}

func (s *PublisherSuite) TestEmitNothing() {
	s.NoError(New(s.store).Emit(context.Background()))
}

func (s *PublisherSuite) TestAsyncEmitDrainsOnClose() {
	p := New(s.store, WithAsyncBuffer(8))
	for range 5 {
		s.Require().NoError(p.Emit(context.Background(), audit.Event{Action: audit.ActionCredentialBanned, Provider: "Google"}))
	}
	p.Close()

	st, err := s.store.Stats(context.Background(), 1)
	s.Require().NoError(err)
	s.EqualValues(5, st.Pending)
}

func (s *PublisherSuite) TestEmitAfterCloseIsRejected() {
	for _, opts := range [][]Option{nil, {WithAsyncBuffer(4)}} {
		p := New(s.store, opts...)
		p.Close()
		p.Close()

		var err error
		s.NotPanics(func() {
			err = p.Emit(context.Background(), audit.Event{Action: audit.ActionCredentialIssued, Provider: "Github"})
		})
		s.ErrorIs(err, ErrClosed)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	}

	st, err := s.store.Stats(context.Background(), 1)
	s.Require().NoError(err)
	s.Zero(st.Pending)
}

func (s *PublisherSuite) TestEmitRacingCloseNeverPanics() {
	p := New(s.store, WithAsyncBuffer(1024))

	var wg sync.WaitGroup
	var accepted atomic.Int64
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				err := p.Emit(context.Background(), audit.Event{Action: audit.ActionCredentialBanned, Provider: "Ens"})
				if err == nil {
					accepted.Add(1)
					continue
				}
				s.ErrorIs(err, ErrClosed)
			}
		}()
	}
	s.NotPanics(p.Close)
	wg.Wait()

	st, err := s.store.Stats(context.Background(), 1)
	s.Require().NoError(err)
	s.EqualValues(accepted.Load(), st.Pending)
}
