package pginterface

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func TestWaitReplicationStarted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT EXISTS").WithArgs("app").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("app").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := WaitReplicationStarted(ctx, mock, "app", 3*time.Second); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWaitReplicationReplay(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT pg_last_wal_replay_lsn").WillReturnRows(
		pgxmock.NewRows([]string{"pg_last_wal_replay_lsn"}).AddRow("0/1000000"))
	mock.ExpectQuery("SELECT pg_last_wal_replay_lsn").WillReturnRows(
		pgxmock.NewRows([]string{"pg_last_wal_replay_lsn"}).AddRow("0/2000000"))

	target, err := ParseLSN("0/2000000")
	if err != nil {
		t.Fatalf("parse lsn: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := WaitReplicationReplay(ctx, mock, target, 50*time.Millisecond, 3*time.Second); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
