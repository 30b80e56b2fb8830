package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorString() {
	s.Run("message wins over code", func() {
		err := &Error{Code: CodeUnavailable, Message: "ban registry unreachable"}
		s.Equal("ban registry unreachable", err.Error())
	})

	s.Run("falls back to code", func() {
		err := &Error{Code: CodeMisconfigured}
		s.Equal("misconfigured", err.Error())
	})
}

func (s *DomainErrorsSuite) TestIsMatchesByCode() {
	s.Run("same code different message", func() {
		s.True(errors.Is(New(CodeTimeout, "a"), &Error{Code: CodeTimeout}))
	})

	s.Run("different code", func() {
		s.False(errors.Is(New(CodeTimeout, "a"), &Error{Code: CodeInternal}))
	})

	s.Run("plain errors never match", func() {
		err := &Error{Code: CodeNotFound}
		s.False(err.Is(errors.New("not_found")))
	})

	s.Run("through fmt wrapping", func() {
		inner := New(CodeInvariantViolation, "missing ban entry")
		wrapped := fmt.Errorf("check bans: %w", inner)
		s.True(errors.Is(wrapped, &Error{Code: CodeInvariantViolation}))
	})
}

func (s *DomainErrorsSuite) TestWrap() {
	s.Run("keeps original domain code", func() {
		wrapped := Wrap(New(CodeUnavailable, "down"), CodeInternal, "issue credential")

		var domainErr *Error
		s.Require().True(errors.As(wrapped, &domainErr))
		s.Equal(CodeUnavailable, domainErr.Code)
		s.Equal("issue credential", domainErr.Message)
	})

	s.Run("applies code to foreign errors", func() {
		root := errors.New("dial tcp: refused")
		wrapped := Wrap(root, CodeUnavailable, "signer unreachable")

		s.True(HasCode(wrapped, CodeUnavailable))
		s.True(errors.Is(wrapped, root))
	})
}

func (s *DomainErrorsSuite) TestCodeOf() {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"domain error", New(CodeForbidden, "banned"), CodeForbidden},
		{"wrapped domain error", fmt.Errorf("x: %w", New(CodeTimeout, "slow")), CodeTimeout},
		{"foreign error", errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.Equal(tt.want, CodeOf(tt.err))
		})
	}
	s.False(HasCode(nil, CodeInternal))
}

func (s *DomainErrorsSuite) TestFormatted() {
	s.Run("newf", func() {
		err := Newf(CodeForbidden, "Credential is banned. Type=%s", "account")
		s.Equal("Credential is banned. Type=account", err.Error())
		s.True(HasCode(err, CodeForbidden))
	})

	s.Run("wrapf keeps inner code", func() {
		err := Wrapf(New(CodeInvariantViolation, "integrity"), CodeInternal, "Ban not found for nullifier %s", "v1:abc")
		s.True(HasCode(err, CodeInvariantViolation))
		s.Equal("Ban not found for nullifier v1:abc", err.Error())
	})
}
