package pgware

import (
	"testing"
	"time"

	"github.com/BearBump/WareBox/internal/models"
	"github.com/stretchr/testify/require"
)

func arrivedPackage() *models.Package {
	code := "408603"
	issued := time.Now().UTC()
	return &models.Package{
		ID:            1,
		CustomerSuite: "VC-100",
		Status:        models.PackageStatusArrived,
		DeliveryCode:  &code,
		CodeIssuedAt:  &issued,
	}
}

func TestEvaluateRedemption_OK(t *testing.T) {
	require.Empty(t, evaluateRedemption(arrivedPackage(), "VC-100", "408603"))
}

func TestEvaluateRedemption_SuiteCaseInsensitiveTrimmed(t *testing.T) {
	require.Empty(t, evaluateRedemption(arrivedPackage(), "  vc-100 ", "408603"))
}

func TestEvaluateRedemption_PackageNotFound(t *testing.T) {
	require.Equal(t, models.RedeemFailPackageNotFound, evaluateRedemption(nil, "VC-100", "408603"))
}

func TestEvaluateRedemption_InvalidState(t *testing.T) {
	p := arrivedPackage()
	p.Status = models.PackageStatusInTransit
	require.Equal(t, models.RedeemFailInvalidState, evaluateRedemption(p, "VC-100", "408603"))
}

func TestEvaluateRedemption_CodeNotIssued(t *testing.T) {
	p := arrivedPackage()
	p.DeliveryCode = nil
	p.CodeIssuedAt = nil
	require.Equal(t, models.RedeemFailCodeNotIssued, evaluateRedemption(p, "VC-100", "408603"))
}

func TestEvaluateRedemption_AlreadyUsed_WinsOverState(t *testing.T) {
	// После погашения посылка уже delivered; клиент должен увидеть
	// CodeAlreadyUsed, а не InvalidState.
	p := arrivedPackage()
	redeemed := time.Now().UTC()
	p.CodeRedeemedAt = &redeemed
	p.Status = models.PackageStatusDelivered
	require.Equal(t, models.RedeemFailCodeAlreadyUsed, evaluateRedemption(p, "VC-100", "408603"))
}

func TestEvaluateRedemption_SuiteMismatch(t *testing.T) {
	require.Equal(t, models.RedeemFailSuiteMismatch, evaluateRedemption(arrivedPackage(), "VC-200", "408603"))
}

func TestEvaluateRedemption_CodeMismatch_Exact(t *testing.T) {
	require.Equal(t, models.RedeemFailCodeMismatch, evaluateRedemption(arrivedPackage(), "VC-100", "408604"))
	// код сверяется побайтно, пробелы не прощаем
	require.Equal(t, models.RedeemFailCodeMismatch, evaluateRedemption(arrivedPackage(), "VC-100", " 408603"))
}

func TestRedeemActor_FallsBackToStaffID(t *testing.T) {
	require.Equal(t, "front_desk", redeemActor(RedeemUpdate{StaffID: 2, StaffActor: "front_desk"}))
	require.Equal(t, "staff:2", redeemActor(RedeemUpdate{StaffID: 2}))
	require.Equal(t, "staff:2", redeemActor(RedeemUpdate{StaffID: 2, StaffActor: "  "}))
}
