package pgware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/WareBox/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "warebox_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/warebox_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func forceStatus(t *testing.T, st *Storage, packageID uint64, status string) {
	t.Helper()
	ctx := context.Background()
	_, err := st.db.Exec(ctx, `UPDATE packages SET status = $2, updated_at = now() WHERE id = $1`, packageID, status)
	require.NoError(t, err)
	_, err = st.db.Exec(ctx, `
INSERT INTO package_status_history (package_id, status, actor, created_at) VALUES ($1,$2,'test',now())
`, packageID, status)
	require.NoError(t, err)
}

func TestPGWare_RepoFlow(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	created, err := st.CreatePackages(ctx, []models.PackageCreateInput{
		{CustomerID: 1, CustomerSuite: "VC-100", CustomerTier: models.CustomerTierPremium, Priority: models.PriorityHigh},
		{CustomerID: 2, CustomerSuite: "VC-200", CustomerTier: models.CustomerTierStandard, Priority: models.PriorityMedium},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	p1, p2 := created[0], created[1]
	require.Equal(t, models.PackageStatusPending, p1.Status)

	// интейк пишет первую запись журнала
	hist, err := st.ListHistory(ctx, p1.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, models.PackageStatusPending, hist[0].Status)

	// принятый переход: условный UPDATE + журнал
	res, err := st.ApplyTransition(ctx, TransitionUpdate{
		PackageID: p1.ID,
		From:      models.PackageStatusPending,
		To:        models.PackageStatusProcessing,
		Actor:     "operator_7",
		Reason:    "intake check passed",
	})
	require.NoError(t, err)
	require.True(t, res.Applied)

	// конфликт: статус уже не pending
	res, err = st.ApplyTransition(ctx, TransitionUpdate{
		PackageID: p1.ID,
		From:      models.PackageStatusPending,
		To:        models.PackageStatusProcessing,
	})
	require.NoError(t, err)
	require.False(t, res.Applied)

	// группировка в отправление
	forceStatus(t, st, p1.ID, models.PackageStatusReadyForGrouping)
	forceStatus(t, st, p2.ID, models.PackageStatusReadyForGrouping)

	sh, err := st.CreateShipment(ctx, []uint64{p1.ID, p2.ID})
	require.NoError(t, err)
	require.Equal(t, models.ShipmentStatusForming, sh.Status)
	require.Equal(t, int32(2), sh.TotalPackages)

	got, err := st.GetPackageByID(ctx, p1.ID)
	require.NoError(t, err)
	require.Equal(t, models.PackageStatusGrouped, got.Status)
	require.NotNil(t, got.ShipmentID)
	require.Equal(t, sh.ID, *got.ShipmentID)

	// уже сгруппированную посылку нельзя забрать во второе отправление
	_, err = st.CreateShipment(ctx, []uint64{p1.ID})
	require.Error(t, err)

	// выдача кода: только в arrived и только один раз
	issued, err := st.IssueDeliveryCode(ctx, p1.ID, "408603")
	require.NoError(t, err)
	require.False(t, issued) // ещё не arrived

	forceStatus(t, st, p1.ID, models.PackageStatusArrived)
	issued, err = st.IssueDeliveryCode(ctx, p1.ID, "408603")
	require.NoError(t, err)
	require.True(t, issued)

	issued, err = st.IssueDeliveryCode(ctx, p1.ID, "999999")
	require.NoError(t, err)
	require.False(t, issued) // повторная выдача — no-op

	// отказ без мутаций
	rr, err := st.RedeemDeliveryCode(ctx, RedeemUpdate{
		PackageID: p1.ID, SuiteNumber: "VC-999", Code: "408603", StaffActor: "staff_a",
	})
	require.NoError(t, err)
	require.False(t, rr.Verified)
	require.Equal(t, models.RedeemFailSuiteMismatch, rr.FailureCode)

	got, err = st.GetPackageByID(ctx, p1.ID)
	require.NoError(t, err)
	require.Equal(t, models.PackageStatusArrived, got.Status)
	require.Nil(t, got.CodeRedeemedAt)

	// успешное погашение: delivered + журнал, но отправление ещё не полное
	rr, err = st.RedeemDeliveryCode(ctx, RedeemUpdate{
		PackageID: p1.ID, SuiteNumber: "vc-100", Code: "408603", StaffActor: "staff_a",
	})
	require.NoError(t, err)
	require.True(t, rr.Verified)
	require.False(t, rr.ShipmentPromoted)

	// повторное погашение тем же кодом
	rr, err = st.RedeemDeliveryCode(ctx, RedeemUpdate{
		PackageID: p1.ID, SuiteNumber: "vc-100", Code: "408603", StaffActor: "staff_a",
	})
	require.NoError(t, err)
	require.False(t, rr.Verified)
	require.Equal(t, models.RedeemFailCodeAlreadyUsed, rr.FailureCode)

	// вторая посылка доезжает — отправление промоутится в той же транзакции
	forceStatus(t, st, p2.ID, models.PackageStatusArrived)
	issued, err = st.IssueDeliveryCode(ctx, p2.ID, "112233")
	require.NoError(t, err)
	require.True(t, issued)

	rr, err = st.RedeemDeliveryCode(ctx, RedeemUpdate{
		PackageID: p2.ID, SuiteNumber: "VC-200", Code: "112233", StaffActor: "staff_b",
	})
	require.NoError(t, err)
	require.True(t, rr.Verified)
	require.True(t, rr.ShipmentPromoted)

	shGot, err := st.GetShipmentByID(ctx, sh.ID)
	require.NoError(t, err)
	require.Equal(t, models.ShipmentStatusDelivered, shGot.Status)

	// повторная сверка — идемпотентный no-op
	promoted, err := st.PromoteShipmentIfComplete(ctx, sh.ID)
	require.NoError(t, err)
	require.False(t, promoted)
}

func TestPGWare_DriftRepair(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	created, err := st.CreatePackages(ctx, []models.PackageCreateInput{
		{CustomerID: 1, CustomerSuite: "A-1", CustomerTier: models.CustomerTierStandard, Priority: models.PriorityLow},
		{CustomerID: 1, CustomerSuite: "A-1", CustomerTier: models.CustomerTierStandard, Priority: models.PriorityLow},
	})
	require.NoError(t, err)
	forceStatus(t, st, created[0].ID, models.PackageStatusReadyForGrouping)
	forceStatus(t, st, created[1].ID, models.PackageStatusReadyForGrouping)

	sh, err := st.CreateShipment(ctx, []uint64{created[0].ID, created[1].ID})
	require.NoError(t, err)

	// имитируем исторический баг: посылки доставлены, агрегат отстал
	forceStatus(t, st, created[0].ID, models.PackageStatusDelivered)
	forceStatus(t, st, created[1].ID, models.PackageStatusDelivered)

	drifted, err := st.ListDriftedShipments(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []uint64{sh.ID}, drifted)

	promoted, err := st.PromoteShipmentIfComplete(ctx, sh.ID)
	require.NoError(t, err)
	require.True(t, promoted)

	drifted, err = st.ListDriftedShipments(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, drifted)
}

func TestPGWare_ListCodelessArrived(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	created, err := st.CreatePackages(ctx, []models.PackageCreateInput{
		{CustomerID: 1, CustomerSuite: "A-1", CustomerTier: models.CustomerTierStandard, Priority: models.PriorityLow},
		{CustomerID: 2, CustomerSuite: "A-2", CustomerTier: models.CustomerTierStandard, Priority: models.PriorityLow},
		{CustomerID: 3, CustomerSuite: "A-3", CustomerTier: models.CustomerTierStandard, Priority: models.PriorityLow},
	})
	require.NoError(t, err)

	// имитируем сбой после перехода: две посылки в arrived, кода нет
	forceStatus(t, st, created[0].ID, models.PackageStatusArrived)
	forceStatus(t, st, created[1].ID, models.PackageStatusArrived)

	stuck, err := st.ListCodelessArrived(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stuck, 2)
	require.Equal(t, created[0].ID, stuck[0].ID)
	require.Equal(t, created[1].ID, stuck[1].ID)

	// довыдача кода убирает посылку из списка
	issued, err := st.IssueDeliveryCode(ctx, created[0].ID, "408603")
	require.NoError(t, err)
	require.True(t, issued)

	stuck, err = st.ListCodelessArrived(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, created[1].ID, stuck[0].ID)
}

func TestPGWare_ConcurrentRedeem_SingleWinner(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	created, err := st.CreatePackages(ctx, []models.PackageCreateInput{
		{CustomerID: 9, CustomerSuite: "VC-100", CustomerTier: models.CustomerTierStandard, Priority: models.PriorityMedium},
	})
	require.NoError(t, err)
	id := created[0].ID

	forceStatus(t, st, id, models.PackageStatusArrived)
	issued, err := st.IssueDeliveryCode(ctx, id, "408603")
	require.NoError(t, err)
	require.True(t, issued)

	const attempts = 8
	results := make([]RedeemResult, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rr, err := st.RedeemDeliveryCode(ctx, RedeemUpdate{
				PackageID: id, SuiteNumber: "vc-100", Code: "408603", StaffActor: "staff_x",
			})
			require.NoError(t, err)
			results[i] = rr
		}(i)
	}
	wg.Wait()

	verified := 0
	for _, rr := range results {
		if rr.Verified {
			verified++
		} else {
			require.Equal(t, models.RedeemFailCodeAlreadyUsed, rr.FailureCode)
		}
	}
	require.Equal(t, 1, verified)

	// delivered ⇒ код погашен
	got, err := st.GetPackageByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.PackageStatusDelivered, got.Status)
	require.NotNil(t, got.CodeRedeemedAt)

	// в журнале ровно одна запись delivered
	hist, err := st.ListHistory(ctx, id, 50, 0)
	require.NoError(t, err)
	deliveredRows := 0
	for _, h := range hist {
		if h.Status == models.PackageStatusDelivered {
			deliveredRows++
		}
	}
	require.Equal(t, 1, deliveredRows)
}
