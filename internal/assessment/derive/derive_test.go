package derive

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"corecompliance/internal/assessment/models"
	"corecompliance/internal/catalog"
)

type DeriveSuite struct {
	suite.Suite
}

func TestDeriveSuite(t *testing.T) {
	suite.Run(t, new(DeriveSuite))
}

func nameEmailRule() catalog.Rule {
	return catalog.Rule{ID: uuid.New(), RequiresName: true, RequiresEmail: true}
}

func phoneRule() catalog.Rule {
	return catalog.Rule{ID: uuid.New(), RequiresPhone: true}
}

func datedFileRule() catalog.Rule {
	return catalog.Rule{ID: uuid.New(), RequiredFiles: []catalog.FileRequirement{
		{FileType: "registro_incidentes", RecencyMonths: 6},
	}}
}

func presenceFilesRule() catalog.Rule {
	return catalog.Rule{ID: uuid.New(), RequiredFiles: []catalog.FileRequirement{
		{FileType: "politica_seguridad"},
		{FileType: "plan_continuidad"},
	}}
}

func (s *DeriveSuite) TestNameEmail() {
	cases := []struct {
		name        string
		answerName  string
		emailStatus models.EmailStatus
		want        models.Status
	}{
		{"name and verified email", "Ana", models.EmailStatusValid, models.StatusCompliant},
		{"name with pending email", "Ana", models.EmailStatusPending, models.StatusPartial},
		{"name with bounced email", "Ana", models.EmailStatusBounced, models.StatusPartial},
		{"name without email", "Ana", models.EmailStatusNone, models.StatusNotEvaluated},
		{"pending email without name", "", models.EmailStatusPending, models.StatusNonCompliant},
		{"bounced email without name", "", models.EmailStatusBounced, models.StatusNonCompliant},
		{"no evidence", "", models.EmailStatusNone, models.StatusNotEvaluated},
	}
	rule := nameEmailRule()
	for _, tc := range cases {
		s.Run(tc.name, func() {
			answer := &models.Answer{Name: tc.answerName, EmailStatus: tc.emailStatus}
			got, ok := Derive(rule, answer)
			s.True(ok)
			s.Equal(tc.want, got)
		})
	}
}

func (s *DeriveSuite) TestPhone() {
	cases := []struct {
		name  string
		phone string
		want  models.Status
	}{
		{"nine digits", "912345678", models.StatusCompliant},
		{"too short", "91234567", models.StatusNonCompliant},
		{"too long", "9123456789", models.StatusNonCompliant},
		{"absent", "", models.StatusNotEvaluated},
	}
	rule := phoneRule()
	for _, tc := range cases {
		s.Run(tc.name, func() {
			got, ok := Derive(rule, &models.Answer{Phone: tc.phone})
			s.True(ok)
			s.Equal(tc.want, got)
		})
	}
}

func (s *DeriveSuite) TestDatedFile() {
	cases := []struct {
		name   string
		status models.FileVerificationStatus
		want   models.Status
	}{
		{"up to date", models.FileVerificationUpToDate, models.StatusCompliant},
		{"outdated", models.FileVerificationOutdated, models.StatusPartial},
		{"very outdated", models.FileVerificationVeryOutdated, models.StatusNonCompliant},
		{"unreadable", models.FileVerificationError, models.StatusNonCompliant},
		{"pending", models.FileVerificationPending, models.StatusNotEvaluated},
		{"unverified", models.FileVerificationNone, models.StatusNotEvaluated},
	}
	rule := datedFileRule()
	for _, tc := range cases {
		s.Run(tc.name, func() {
			answer := &models.Answer{Files: []models.FileEvidence{{
				FileType:           "registro_incidentes",
				VerificationStatus: tc.status,
			}}}
			got, ok := Derive(rule, answer)
			s.True(ok)
			s.Equal(tc.want, got)
		})
	}
}

func (s *DeriveSuite) TestDatedFileAbsent() {
	got, ok := Derive(datedFileRule(), &models.Answer{})
	s.True(ok)
	s.Equal(models.StatusNotEvaluated, got)
}

func (s *DeriveSuite) TestPresenceFiles() {
	rule := presenceFilesRule()

	s.Run("none uploaded", func() {
		got, ok := Derive(rule, &models.Answer{})
		s.True(ok)
		s.Equal(models.StatusNotEvaluated, got)
	})

	s.Run("some uploaded", func() {
		answer := &models.Answer{Files: []models.FileEvidence{{FileType: "politica_seguridad"}}}
		got, ok := Derive(rule, answer)
		s.True(ok)
		s.Equal(models.StatusPartial, got)
	})

	s.Run("all uploaded", func() {
		answer := &models.Answer{Files: []models.FileEvidence{
			{FileType: "plan_continuidad"},
			{FileType: "politica_seguridad"},
		}}
		got, ok := Derive(rule, answer)
		s.True(ok)
		s.Equal(models.StatusCompliant, got)
	})
}

func (s *DeriveSuite) TestManualRuleLeavesStatusAlone() {
	rule := catalog.Rule{ID: uuid.New()}
	got, ok := Derive(rule, &models.Answer{Status: models.StatusCompliant})
	s.False(ok)
	s.Equal(models.StatusNotEvaluated, got)
}

func (s *DeriveSuite) TestUnauthoredCombinationFallsBack() {
	rule := catalog.Rule{ID: uuid.New(), RequiresName: true}
	got, ok := Derive(rule, &models.Answer{Name: "Ana"})
	s.True(ok)
	s.Equal(models.StatusNotEvaluated, got)
}

// Same evidence, same rule, same result: derivation holds no hidden state.
func (s *DeriveSuite) TestDeterminism() {
	rule := nameEmailRule()
	answer := &models.Answer{Name: "Ana", EmailStatus: models.EmailStatusPending}
	first, _ := Derive(rule, answer)
	for i := 0; i < 10; i++ {
		got, _ := Derive(rule, answer)
		s.Equal(first, got)
	}
}
