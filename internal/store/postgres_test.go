package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/vigia-labs/scamwatch/internal/model"
	"github.com/vigia-labs/scamwatch/internal/resilience"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock, table: "scam_reports"}, mock
}

func TestPostgresCreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "idle", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	require.Equal(t, model.RunStatusIdle, run.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateRunStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("enriching", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.UpdateRunStatus(context.Background(), "run-1", model.RunStatusEnriching))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCompleteRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	summary := &model.RunSummary{PostsIn: 45, PostsPersisted: 12}
	payload, err := json.Marshal(summary)
	require.NoError(t, err)

	mock.ExpectExec(`UPDATE runs SET status = \$1, summary = \$2`).
		WithArgs("complete", payload, pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.CompleteRun(context.Background(), "run-1", summary))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	summary, err := json.Marshal(&model.RunSummary{PostsIn: 45})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT id, status, summary, created_at, updated_at FROM runs`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "status", "summary", "created_at", "updated_at"}).
			AddRow("run-1", "complete", summary, now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Summary)
	require.Equal(t, 45, run.Summary.PostsIn)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertReportsEmpty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.InsertReports(context.Background(), "run-1", nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertReports(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	reports := []model.ScoredPost{
		{Post: model.Post{Text: "golpe do pix", Username: "a", Source: "twitter"}, ScamProbability: 0.91},
		{Post: model.Post{Text: "outro golpe", Username: "b", Source: "reddit"}, ScamProbability: 0.85},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_scam_reports"}, reportColumns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "scam_reports"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.InsertReports(context.Background(), "run-1", reports)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeadLetters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	entry := resilience.DeadLetter{
		ID:         "dl-1",
		BatchIndex: 2,
		Posts:      []model.Post{{Text: "caiu no golpe", Source: "twitter"}},
		Error:      "llm: status 500",
		ErrorType:  "transient",
		Attempts:   4,
		FailedAt:   time.Now().UTC(),
	}
	posts, err := json.Marshal(entry.Posts)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO dead_letters`).
		WithArgs(entry.ID, entry.BatchIndex, posts, entry.Error, entry.ErrorType, entry.Attempts, entry.FailedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.EnqueueDeadLetter(context.Background(), entry))

	mock.ExpectQuery(`SELECT id, batch_index, posts, error, error_type, attempts, failed_at FROM dead_letters`).
		WithArgs("transient", 100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "batch_index", "posts", "error", "error_type", "attempts", "failed_at"}).
			AddRow(entry.ID, entry.BatchIndex, posts, entry.Error, entry.ErrorType, entry.Attempts, entry.FailedAt))

	got, err := s.ListDeadLetters(context.Background(), resilience.DeadLetterFilter{ErrorType: "transient"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, entry.ID, got[0].ID)
	require.Len(t, got[0].Posts, 1)
	require.Equal(t, "caiu no golpe", got[0].Posts[0].Text)
	require.NoError(t, mock.ExpectationsWereMet())
}
