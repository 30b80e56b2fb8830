package providers

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"iam/internal/verification/models"
)

type RequestedTypeSuite struct {
	suite.Suite
}

func TestRequestedTypeSuite(t *testing.T) {
	suite.Run(t, new(RequestedTypeSuite))
}

func (s *RequestedTypeSuite) TestParse() {
	tests := []struct {
		label    string
		kind     Kind
		provider string
		wantErr  bool
	}{
		{label: "Github", kind: KindPlain, provider: "Github"},
		{label: "AllowList", kind: KindPlain, provider: "AllowList"},
		{label: "AllowList#testList", kind: KindAllowList, provider: TypeAllowList},
		{label: "DeveloperList#alice#0xabc", kind: KindDeveloperList, provider: TypeDeveloperList},
		{label: "AllowList#", wantErr: true},
		{label: "DeveloperList#alice", wantErr: true},
		{label: "DeveloperList##0xabc", wantErr: true},
		{label: "NFTScore#50", kind: KindPlain, provider: "NFTScore#50"},
	}
	for _, tt := range tests {
		s.Run(tt.label, func() {
			rt, err := ParseRequestedType(tt.label)
			if tt.wantErr {
				s.ErrorIs(err, ErrInvalidType)
				return
			}
			s.Require().NoError(err)
			s.Equal(tt.kind, rt.Kind)
			s.Equal(tt.provider, rt.ProviderType())
			s.Equal(tt.label, rt.Label)
		})
	}
}

func (s *RequestedTypeSuite) TestApplyAllowList() {
	rt, err := ParseRequestedType("AllowList#testList")
	s.Require().NoError(err)

	base := models.RequestPayload{Type: "AllowList#testList", Proofs: map[string]string{"code": "x"}}
	out := rt.Apply(base)

	s.Equal(TypeAllowList, out.Type)
	s.Equal("testList", out.Proofs[models.ProofAllowList])
	s.Equal("x", out.Proofs["code"])
	s.NotContains(base.Proofs, models.ProofAllowList)
}

func (s *RequestedTypeSuite) TestApplyDeveloperList() {
	rt, err := ParseRequestedType("DeveloperList#alice#0xabc#tail")
	s.Require().NoError(err)

	out := rt.Apply(models.RequestPayload{})

	s.Equal(TypeDeveloperList, out.Type)
	s.Equal("alice", out.Proofs[models.ProofConditionName])
	s.Equal("0xabc", out.Proofs[models.ProofConditionHash])
}

func (s *RequestedTypeSuite) TestTrailingSegmentsIgnored() {
	rt, err := ParseRequestedType("AllowList#testList#extra")
	s.Require().NoError(err)
	s.Equal("testList", rt.ID)
	s.Equal("AllowList#testList#extra", rt.Label)

	rt, err = ParseRequestedType("DeveloperList#alice#0xabc#x#y")
	s.Require().NoError(err)
	s.Equal("alice", rt.ConditionName)
	s.Equal("0xabc", rt.ConditionHash)
}
