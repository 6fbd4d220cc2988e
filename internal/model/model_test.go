package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"LOW":      SeverityLow,
		"moderate": SeverityMedium,
		"High":     SeverityHigh,
		"critical": SeverityCritical,
		"":         SeverityUnknown,
	}
	for in, want := range cases {
		got, err := ParseSeverity(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSeverity("severe")
	assert.Error(t, err)
}

func TestStatusOrdering(t *testing.T) {
	assert.True(t, StatusNew.Before(StatusOpen))
	assert.True(t, StatusOpen.Before(StatusPatchAvailable))
	assert.True(t, StatusRiskAssessed.Before(StatusPatchAvailable))
	assert.True(t, StatusPatchAvailable.Before(StatusClosed))
	assert.False(t, StatusPatchAvailable.Before(StatusPatchAvailable))
	assert.False(t, StatusClosed.Before(StatusNew))
	assert.False(t, Status("REOPENED").Valid())
}

func TestProjectKeyIncludesPath(t *testing.T) {
	prod := Project{Name: "boundary-guestos", Path: "ic/ic-os/boundary-guestos/envs/prod"}
	sev := Project{Name: "boundary-guestos", Path: "ic/ic-os/boundary-guestos/envs/prod-sev"}
	assert.NotEqual(t, prod.Key(), sev.Key())
	assert.Equal(t, "boundary-guestos@ic/ic-os/boundary-guestos/envs/prod", prod.Key())
}

func TestParseScanJobType(t *testing.T) {
	jt, err := ParseScanJobType("periodic")
	require.NoError(t, err)
	assert.Equal(t, ScanJobPeriodic, jt)

	_, err = ParseScanJobType("nightly")
	assert.Error(t, err)
}
