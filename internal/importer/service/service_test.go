package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/greenledger/internal/authorization"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	carbonrepo "github.com/smallbiznis/greenledger/internal/carbon/repository"
	carbonsvc "github.com/smallbiznis/greenledger/internal/carbon/service"
	"github.com/smallbiznis/greenledger/internal/clock"
	"github.com/smallbiznis/greenledger/internal/config"
	ewastedomain "github.com/smallbiznis/greenledger/internal/ewaste/domain"
	ewasterepo "github.com/smallbiznis/greenledger/internal/ewaste/repository"
	ewastesvc "github.com/smallbiznis/greenledger/internal/ewaste/service"
	"github.com/smallbiznis/greenledger/internal/importer/domain"
	"github.com/smallbiznis/greenledger/internal/importer/repository"
	integrationdomain "github.com/smallbiznis/greenledger/internal/integration/domain"
	offsetdomain "github.com/smallbiznis/greenledger/internal/offset/domain"
	offsetrepo "github.com/smallbiznis/greenledger/internal/offset/repository"
	offsetsvc "github.com/smallbiznis/greenledger/internal/offset/service"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"github.com/smallbiznis/greenledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc     *Service
	db      *gorm.DB
	clock   *clock.FakeClock
	offsets offsetdomain.Service
	company uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := db.NewTest(t,
		&domain.Job{}, &domain.Artifact{},
		&carbondomain.Footprint{},
		&ewastedomain.Entry{},
		&offsetdomain.Offset{}, &offsetdomain.Purchase{}, &offsetdomain.CreditReversal{},
	)
	authz, err := authorization.New()
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	factors := config.NewStaticFactors(config.DefaultFactors())

	carbon := carbonsvc.New(carbonsvc.Params{DB: conn, Log: log, Clock: fc, Repo: carbonrepo.Provide(), Authz: authz, Factors: factors})
	ewaste := ewastesvc.New(ewastesvc.Params{DB: conn, Log: log, Clock: fc, Repo: ewasterepo.Provide(), Authz: authz, Factors: factors})
	offsets := offsetsvc.New(offsetsvc.Params{DB: conn, Log: log, Clock: fc, Repo: offsetrepo.Provide(), Authz: authz})

	svc := New(Params{
		DB:    conn,
		Log:   log,
		Clock: fc,
		Config: config.Config{Import: config.ImportConfig{
			StageTimeout: time.Minute,
			BatchSize:    2,
			SampleRows:   20,
			Retention:    30 * 24 * time.Hour,
			Workers:      1,
		}},
		Repo:    repository.Provide(),
		Authz:   authz,
		Carbon:  carbon,
		Ewaste:  ewaste,
		Offsets: offsets,
	})
	return &fixture{svc: svc, db: conn, clock: fc, offsets: offsets, company: uuid.New()}
}

func (f *fixture) as(role authorization.Role) context.Context {
	return tenant.WithPrincipal(context.Background(), tenant.Principal{UserID: uuid.New(), CompanyID: f.company, Role: role})
}

func (f *fixture) manager() context.Context {
	return f.as(authorization.RoleSustainabilityManager)
}

const carbonCSV = "Period,Scope1,Scope2,Scope3\n" +
	"2023-Q1,10,20,30\n" +
	"2023-Q2,11,21,31\n" +
	"2023-Q3,12,-1,32\n" +
	"2023-Q4,13,23,33\n" +
	"2024-Q1,14,24,34\n"

func (f *fixture) run(t *testing.T, id uuid.UUID) domain.Job {
	t.Helper()
	job, err := f.svc.Run(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (f *fixture) report(t *testing.T, id uuid.UUID) []domain.RowOutcome {
	t.Helper()
	raw, err := f.svc.Report(f.manager(), id)
	require.NoError(t, err)
	var out []domain.RowOutcome
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		var o domain.RowOutcome
		require.NoError(t, json.Unmarshal(sc.Bytes(), &o))
		out = append(out, o)
	}
	return out
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Where("company_id = ?", f.company).Count(&n).Error)
	return n
}

func TestCarbonImportSkipsInvalidRows(t *testing.T) {
	f := newFixture(t)

	suggestion, err := f.svc.Suggest(f.manager(), domain.SuggestRequest{
		DataType: domain.DataCarbon,
		Headers:  []string{"Period", "Scope1", "Scope2", "Scope3"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"Period": "reporting_period",
		"Scope1": "scope1_emissions",
		"Scope2": "scope2_emissions",
		"Scope3": "scope3_emissions",
	}, suggestion.Mapping)

	job, err := f.svc.Create(f.manager(), domain.CreateJobRequest{
		DataType: domain.DataCarbon,
		FileName: "emissions.csv",
		Content:  []byte(carbonCSV),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, job.Status)

	job = f.run(t, job.ID)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, domain.StageApply, job.Stage)
	assert.Equal(t, suggestion.Mapping, job.Mapping.Data())
	assert.Equal(t, "integer", job.DetectedTypes.Data()["Scope1"])
	assert.Equal(t, 5, job.RowsTotal)
	assert.Equal(t, 4, job.RowsValid)
	assert.Equal(t, 1, job.RowsInvalid)
	assert.Equal(t, 4, job.RowsImported)
	assert.Equal(t, 2, job.BatchesApplied)
	require.NotNil(t, job.CompletedAt)

	report := f.report(t, job.ID)
	require.Len(t, report, 5)
	invalid := report[2]
	assert.Equal(t, 4, invalid.Row)
	assert.False(t, invalid.Valid)
	require.Len(t, invalid.Errors, 1)
	assert.Equal(t, "scope2_emissions", invalid.Errors[0].Field)
	assert.Equal(t, "negative_value", invalid.Errors[0].Code)

	assert.Equal(t, int64(4), f.count(t, &carbondomain.Footprint{}))
	var q3 int64
	require.NoError(t, f.db.Model(&carbondomain.Footprint{}).Where("reporting_period = ?", "2023-Q3").Count(&q3).Error)
	assert.Zero(t, q3)

	_, err = f.svc.Rerun(f.manager(), job.ID, domain.StageApply)
	require.NoError(t, err)
	job = f.run(t, job.ID)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, 4, job.RowsImported)
	assert.Equal(t, int64(4), f.count(t, &carbondomain.Footprint{}))
}

func TestDryRunStopsAfterValidation(t *testing.T) {
	f := newFixture(t)

	job, err := f.svc.Create(f.manager(), domain.CreateJobRequest{
		DataType: domain.DataCarbon,
		FileName: "emissions.csv",
		Content:  []byte(carbonCSV),
		DryRun:   true,
	})
	require.NoError(t, err)

	job = f.run(t, job.ID)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, domain.StageValidate, job.Stage)
	assert.Equal(t, 4, job.RowsValid)
	assert.Zero(t, job.RowsImported)
	assert.Zero(t, f.count(t, &carbondomain.Footprint{}))

	job, err = f.svc.Rerun(f.manager(), job.ID, domain.StageApply)
	require.NoError(t, err)
	assert.False(t, job.DryRun)
	assert.Equal(t, domain.StatusPending, job.Status)

	job = f.run(t, job.ID)
	assert.Equal(t, 4, job.RowsImported)
	assert.Equal(t, int64(4), f.count(t, &carbondomain.Footprint{}))
}

func ewasteWorkbook(t *testing.T) []byte {
	t.Helper()
	book := excelize.NewFile()
	defer book.Close()
	rows := [][]any{
		{"Kind", "Pieces", "Mass", "When"},
		{"laptop", 3, 7.5, "2024-04-02"},
		{"Monitor", 2, 11, "2024-04-20"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, book.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := book.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestMappingOverrideOnWorkbook(t *testing.T) {
	f := newFixture(t)
	mapping := map[string]string{
		"Kind":   "device_type",
		"Pieces": "quantity",
		"Mass":   "weight_kg",
		"When":   "donation_date",
	}

	job, err := f.svc.Create(f.manager(), domain.CreateJobRequest{
		DataType: domain.DataEwaste,
		FileName: "donations.xlsx",
		Content:  ewasteWorkbook(t),
		Mapping:  mapping,
	})
	require.NoError(t, err)
	assert.True(t, job.MappingOverridden)

	job = f.run(t, job.ID)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, "xlsx", job.Format)
	assert.Equal(t, mapping, job.Mapping.Data())
	assert.Equal(t, 2, job.RowsImported)
	assert.Equal(t, int64(2), f.count(t, &ewastedomain.Entry{}))

	var entries []ewastedomain.Entry
	require.NoError(t, f.db.Order("donation_date asc").Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, ewastedomain.DeviceMonitor, entries[1].DeviceType)
	assert.True(t, entries[0].WeightKg.Equal(decimal.RequireFromString("7.5")))
	require.NotNil(t, entries[0].SourceRef)

	_, err = f.svc.SetMapping(f.manager(), job.ID, map[string]string{"Kind": "colour"})
	assert.ErrorIs(t, err, domain.ErrInvalidMapping)
	_, err = f.svc.SetMapping(f.manager(), job.ID, map[string]string{"Missing": "quantity"})
	assert.ErrorIs(t, err, domain.ErrInvalidMapping)
	_, err = f.svc.SetMapping(f.manager(), job.ID, map[string]string{"Kind": "quantity", "Pieces": "quantity"})
	assert.ErrorIs(t, err, domain.ErrInvalidMapping)

	// Re-applying upserts by the generated source reference.
	job, err = f.svc.SetMapping(f.manager(), job.ID, mapping)
	require.NoError(t, err)
	assert.Equal(t, domain.StageMap, job.Stage)
	job = f.run(t, job.ID)
	assert.Equal(t, 2, job.RowsImported)
	assert.Equal(t, int64(2), f.count(t, &ewastedomain.Entry{}))
}

func TestFailedBatchKeepsCommittedBatches(t *testing.T) {
	f := newFixture(t)
	_, err := f.offsets.CreateOffset(f.as(authorization.RoleAdministrator), offsetdomain.OffsetInput{
		Name:              "Mangrove",
		Category:          "Blue carbon",
		PricePerTonne:     decimal.RequireFromString("12"),
		AvailableQuantity: 100,
	})
	require.NoError(t, err)

	csv := "Project,Credits,Date,Order ID\n" +
		"Mangrove,5,2024-01-10,ord-1\n" +
		"Mangrove,5,2024-01-11,ord-2\n" +
		"Peatland,5,2024-01-12,ord-3\n"
	job, err := f.svc.Create(f.manager(), domain.CreateJobRequest{
		DataType: domain.DataOffsets,
		FileName: "credits.csv",
		Content:  []byte(csv),
	})
	require.NoError(t, err)

	job, err = f.svc.Run(context.Background(), job.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, offsetdomain.ErrOffsetNotFound)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, domain.StageValidate, job.Stage)
	assert.Equal(t, 1, job.BatchesApplied)
	assert.Equal(t, 1, job.BatchesFailed)
	assert.Equal(t, 2, job.RowsImported)
	assert.NotEmpty(t, job.LastError)
	assert.Equal(t, int64(2), f.count(t, &offsetdomain.Purchase{}))

	stored, err := f.svc.Get(f.manager(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := f.manager()

	_, err := f.svc.Create(ctx, domain.CreateJobRequest{DataType: "water", FileName: "a.csv", Content: []byte("a\n1\n")})
	assert.ErrorIs(t, err, domain.ErrInvalidDataType)
	_, err = f.svc.Create(ctx, domain.CreateJobRequest{DataType: domain.DataCarbon, FileName: "a.csv"})
	assert.ErrorIs(t, err, domain.ErrEmptyFile)
	_, err = f.svc.Create(ctx, domain.CreateJobRequest{DataType: domain.DataCarbon, FileName: "a.pdf", Content: []byte("%PDF-1.7")})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFile)
	_, err = f.svc.Create(ctx, domain.CreateJobRequest{
		DataType: domain.DataCarbon,
		FileName: "a.csv",
		Content:  []byte(carbonCSV),
		Mapping:  map[string]string{"Period": "weight_kg"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidMapping)

	_, err = f.svc.Create(f.as(authorization.RoleDecisionMaker), domain.CreateJobRequest{DataType: domain.DataCarbon, FileName: "a.csv", Content: []byte(carbonCSV)})
	assert.ErrorIs(t, err, authorization.ErrForbidden)
	_, err = f.svc.Create(context.Background(), domain.CreateJobRequest{DataType: domain.DataCarbon, FileName: "a.csv", Content: []byte(carbonCSV)})
	assert.Error(t, err)
}

func TestJobsAreScopedToCompany(t *testing.T) {
	f := newFixture(t)
	job, err := f.svc.Create(f.manager(), domain.CreateJobRequest{DataType: domain.DataCarbon, FileName: "a.csv", Content: []byte(carbonCSV)})
	require.NoError(t, err)

	other := tenant.WithPrincipal(context.Background(), tenant.Principal{UserID: uuid.New(), CompanyID: uuid.New(), Role: authorization.RoleAdministrator})
	_, err = f.svc.Get(other, job.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = f.svc.Report(f.manager(), job.ID)
	assert.ErrorIs(t, err, domain.ErrReportNotReady)

	_, err = f.svc.Create(f.manager(), domain.CreateJobRequest{DataType: domain.DataEwaste, FileName: "b.xlsx", Content: ewasteWorkbook(t)})
	require.NoError(t, err)

	res, err := f.svc.List(f.manager(), domain.ListJobsRequest{DataType: domain.DataEwaste})
	require.NoError(t, err)
	require.Len(t, res.Jobs, 1)
	assert.Equal(t, domain.DataEwaste, res.Jobs[0].DataType)

	res, err = f.svc.List(other, domain.ListJobsRequest{})
	require.NoError(t, err)
	assert.Empty(t, res.Jobs)
}

func TestRerunRefusesRunningJob(t *testing.T) {
	f := newFixture(t)
	job, err := f.svc.Create(f.manager(), domain.CreateJobRequest{DataType: domain.DataCarbon, FileName: "a.csv", Content: []byte(carbonCSV), DryRun: true})
	require.NoError(t, err)
	job = f.run(t, job.ID)

	job.Status = domain.StatusValidating
	job.UpdatedAt = f.clock.Now()
	require.NoError(t, f.svc.repo.SaveJob(context.Background(), f.db, &job))

	_, err = f.svc.Rerun(f.manager(), job.ID, domain.StageValidate)
	assert.ErrorIs(t, err, domain.ErrJobBusy)

	f.clock.Advance(3 * time.Minute)
	rerun, err := f.svc.Rerun(f.manager(), job.ID, domain.StageValidate)
	require.NoError(t, err)
	assert.Equal(t, domain.StageMap, rerun.Stage)

	_, err = f.svc.Rerun(f.manager(), job.ID, "load")
	assert.ErrorIs(t, err, domain.ErrInvalidStage)
}

func TestSweepDropsExpiredOriginals(t *testing.T) {
	f := newFixture(t)
	job, err := f.svc.Create(f.manager(), domain.CreateJobRequest{DataType: domain.DataCarbon, FileName: "a.csv", Content: []byte(carbonCSV), DryRun: true})
	require.NoError(t, err)
	f.run(t, job.ID)

	n, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(31 * 24 * time.Hour)
	n, err = f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Later stages still work from the parsed rows.
	_, err = f.svc.Rerun(f.manager(), job.ID, domain.StageValidate)
	require.NoError(t, err)
	f.run(t, job.ID)
	assert.Len(t, f.report(t, job.ID), 5)

	_, err = f.svc.Rerun(f.manager(), job.ID, domain.StageParse)
	require.NoError(t, err)
	_, err = f.svc.Run(context.Background(), job.ID)
	assert.ErrorIs(t, err, domain.ErrOriginalExpired)
}

func TestIngestRecordsRunsWithoutPrincipal(t *testing.T) {
	f := newFixture(t)

	var sink integrationdomain.RecordSink = f.svc
	id, err := sink.IngestRecords(context.Background(), integrationdomain.IngestRequest{
		CompanyID: f.company,
		DataType:  string(domain.DataEwaste),
		Source:    "ledger",
		Name:      "ledger-sync",
		Headers:   []string{"device_type", "quantity", "weight_kg", "donation_date", "serial"},
		Rows: [][]string{
			{"tablet", "4", "2.4", "2024-03-01", "T-1"},
			{"phone", "1", "0.2", "2024-03-01", "T-2"},
		},
	})
	require.NoError(t, err)

	job := f.run(t, id)
	assert.Equal(t, domain.SourceIntegration, job.Source)
	assert.Equal(t, "ledger-sync.csv", job.FileName)
	assert.Equal(t, "source_ref", job.Mapping.Data()["serial"])
	assert.Equal(t, 1, job.RowsValid)
	assert.Equal(t, 1, job.RowsInvalid)
	assert.Equal(t, 1, job.RowsImported)

	report := f.report(t, id)
	require.Len(t, report, 2)
	assert.Equal(t, "invalid_device_type", report[1].Errors[0].Code)
}

func TestWorkersProcessQueuedJobs(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Start(context.Background()))
	t.Cleanup(func() { _ = f.svc.Stop(context.Background()) })

	job, err := f.svc.Create(f.manager(), domain.CreateJobRequest{DataType: domain.DataCarbon, FileName: "a.csv", Content: []byte(carbonCSV)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.svc.Get(f.manager(), job.ID)
		return err == nil && got.Status == domain.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(4), f.count(t, &carbondomain.Footprint{}))
}
