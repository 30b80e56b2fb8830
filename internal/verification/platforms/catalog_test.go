package platforms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type CatalogSuite struct {
	suite.Suite
	catalog *Catalog
}

func TestCatalogSuite(t *testing.T) {
	suite.Run(t, new(CatalogSuite))
}

const catalogYAML = `
platforms:
  - name: Github
    providers:
      - type: Github
        url: http://github-check:8080
        timeout: 15s
      - type: GithubContributor
  - name: Google
    providers:
      - type: Google
  - name: AllowList
    providers:
      - type: AllowList
`

func (s *CatalogSuite) SetupTest() {
	c, err := Parse([]byte(catalogYAML))
	s.Require().NoError(err)
	s.catalog = c
}

func (s *CatalogSuite) TestParse() {
	s.Len(s.catalog.Platforms(), 3)
	spec := s.catalog.Platforms()[0].Providers[0]
	s.Equal("http://github-check:8080", spec.URL)
	s.Equal(15*time.Second, spec.Timeout)
}

func (s *CatalogSuite) TestGroupPreservesFirstSeenOrder() {
	groups := s.catalog.Group([]string{"Github", "Google", "GithubContributor"})
	s.Equal([][]string{{"Github", "GithubContributor"}, {"Google"}}, groups)
}

func (s *CatalogSuite) TestUnknownTypesGoGeneric() {
	groups := s.catalog.Group([]string{"Mystery", "Google", "Other"})
	s.Equal([][]string{{"Mystery", "Other"}, {"Google"}}, groups)
}

func (s *CatalogSuite) TestParameterizedLabelsNeedFullMatch() {
	groups := s.catalog.Group([]string{"AllowList#a", "Github", "AllowList", "AllowList#b"})
	s.Equal([][]string{{"AllowList#a", "AllowList#b"}, {"Github"}, {"AllowList"}}, groups)
	s.Equal(Generic, s.catalog.PlatformOf("AllowList#a"))
	s.Equal(Generic, s.catalog.PlatformOf("Github#x"))
}

func (s *CatalogSuite) TestGroupIsAPartition() {
	in := []string{"Google", "X", "Github", "AllowList#z", "Y", "GithubContributor"}
	var flat []string
	for _, g := range s.catalog.Group(in) {
		s.NotEmpty(g)
		flat = append(flat, g...)
	}
	s.ElementsMatch(in, flat)
	s.Empty(s.catalog.Group(nil))
}

func (s *CatalogSuite) TestRejectsDuplicateProvider() {
	_, err := NewCatalog([]Platform{
		{Name: "A", Providers: []ProviderSpec{{Type: "Shared"}}},
		{Name: "B", Providers: []ProviderSpec{{Type: "Shared"}}},
	})
	s.ErrorContains(err, "Shared")
}

func (s *CatalogSuite) TestLoadDefaultCatalog() {
	c, err := Load("../../../providers.yaml")
	s.Require().NoError(err)

	for _, p := range c.Platforms() {
		for _, spec := range p.Providers {
			s.NotEmpty(spec.URL, spec.Type)
			s.Positive(spec.Timeout, spec.Type)
		}
	}
	s.Equal("ETH", c.PlatformOf("ETHScore#50"))
	s.Equal(Generic, c.PlatformOf("ETHScore#75"))
	s.Equal([][]string{{"Ens"}, {"GithubContributionActivityGte#30", "GithubContributionActivityGte#60"}},
		c.Group([]string{"Ens", "GithubContributionActivityGte#30", "GithubContributionActivityGte#60"}))
}

func (s *CatalogSuite) TestLoadMissingFile() {
	_, err := Load("does-not-exist.yaml")
	s.ErrorContains(err, "read provider catalog")
}
