package status

import (
	"testing"

	"github.com/BearBump/WareBox/internal/models"
	"github.com/stretchr/testify/require"
)

func findingCodes(fs []models.Finding) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Code)
	}
	return out
}

func TestValidate_UnknownTarget(t *testing.T) {
	v := NewValidator()
	res := v.Validate(models.PackageStatusPending, "vanished", "operator", nil)
	require.False(t, res.OK())
	require.Contains(t, findingCodes(res.Errors), models.FindingUnknownStatus)
}

func TestValidate_ForwardTransition_NoFindings(t *testing.T) {
	v := NewValidator()
	res := v.Validate(models.PackageStatusPending, models.PackageStatusProcessing, "operator", nil)
	require.True(t, res.OK())
	require.Empty(t, res.Warnings)
}

func TestValidate_TerminalStateViolation(t *testing.T) {
	v := NewValidator()
	res := v.Validate(models.PackageStatusDelivered, models.PackageStatusProcessing, "warehouse_admin", nil)
	require.False(t, res.OK())
	require.Contains(t, findingCodes(res.Errors), models.FindingTerminalStateViolation)
}

func TestValidate_TerminalNoOp_OK(t *testing.T) {
	v := NewValidator()
	res := v.Validate(models.PackageStatusDelivered, models.PackageStatusDelivered, "operator", nil)
	require.True(t, res.OK())
	require.Empty(t, res.Warnings)
}

func TestValidate_OverrideRoleMayLeaveTerminal(t *testing.T) {
	v := NewValidator("super_admin")
	res := v.Validate(models.PackageStatusDelivered, models.PackageStatusProcessing, "super_admin", nil)
	require.True(t, res.OK())
	// откат назад всё равно подсвечивается предупреждением
	require.Contains(t, findingCodes(res.Warnings), models.FindingStatusRegression)
}

func TestValidate_Regression_Warns(t *testing.T) {
	v := NewValidator()
	res := v.Validate(models.PackageStatusInTransit, models.PackageStatusProcessing, "operator", nil)
	require.True(t, res.OK())
	require.Contains(t, findingCodes(res.Warnings), models.FindingStatusRegression)
}

func TestValidate_RepeatedStatus_Warns(t *testing.T) {
	v := NewValidator()
	history := []*models.StatusHistoryEntry{
		{Status: models.PackageStatusPending},
		{Status: models.PackageStatusProcessing},
	}
	res := v.Validate(models.PackageStatusPending, models.PackageStatusProcessing, "operator", history)
	require.True(t, res.OK())
	require.Contains(t, findingCodes(res.Warnings), models.FindingRepeatedStatus)
}

func TestValidate_RepeatedTerminal_NoWarning(t *testing.T) {
	// Терминальный статус может подтверждаться повторно без предупреждений.
	v := NewValidator()
	history := []*models.StatusHistoryEntry{{Status: models.PackageStatusDelivered}}
	res := v.Validate(models.PackageStatusArrived, models.PackageStatusDelivered, "operator", history)
	require.True(t, res.OK())
	require.Empty(t, res.Warnings)
}
