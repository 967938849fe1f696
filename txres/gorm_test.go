package txres_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gocrud/ioc/tx"
	"github.com/gocrud/ioc/txres"
)

type Order struct {
	ID   uint `gorm:"primaryKey"`
	Item string
}

type Ledger struct {
	ID     uint `gorm:"primaryKey"`
	Amount int
}

func openGorm(t *testing.T, name string, models ...any) *txres.Gorm {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), name+".db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return txres.NewGorm(name, db)
}

func count(t *testing.T, g *txres.Gorm, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, g.Client().Model(model).Count(&n).Error)
	return n
}

func TestGormCommitsWithTransaction(t *testing.T) {
	orders := openGorm(t, "orders", &Order{})
	m := tx.NewManager()

	err := tx.Required(context.Background(), m, func(ctx context.Context) error {
		db, err := orders.DB(ctx, m)
		if err != nil {
			return err
		}
		if err := db.Create(&Order{Item: "apple"}).Error; err != nil {
			return err
		}
		// 同一事务中再次取得连接不会重复登记
		again, err := orders.DB(ctx, m)
		if err != nil {
			return err
		}
		assert.Len(t, m.Transaction(ctx).Enlistments(), 1)
		return again.Create(&Order{Item: "pear"}).Error
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count(t, orders, &Order{}))
	assert.Zero(t, orders.Active())
}

func TestGormRollsBackOnError(t *testing.T) {
	orders := openGorm(t, "orders", &Order{})
	m := tx.NewManager()
	boom := errors.New("boom")

	err := tx.Required(context.Background(), m, func(ctx context.Context) error {
		db, err := orders.DB(ctx, m)
		require.NoError(t, err)
		require.NoError(t, db.Create(&Order{Item: "apple"}).Error)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, count(t, orders, &Order{}))
	assert.Zero(t, orders.Active())
}

func TestGormTwoDatabasesCommitTogether(t *testing.T) {
	orders := openGorm(t, "orders", &Order{})
	ledger := openGorm(t, "ledger", &Ledger{})
	m := tx.NewManager()

	write := func(ctx context.Context) error {
		odb, err := orders.DB(ctx, m)
		if err != nil {
			return err
		}
		ldb, err := ledger.DB(ctx, m)
		if err != nil {
			return err
		}
		if err := odb.Create(&Order{Item: "book"}).Error; err != nil {
			return err
		}
		return ldb.Create(&Ledger{Amount: 42}).Error
	}

	require.NoError(t, tx.Required(context.Background(), m, write))
	assert.Equal(t, int64(1), count(t, orders, &Order{}))
	assert.Equal(t, int64(1), count(t, ledger, &Ledger{}))

	err := tx.Required(context.Background(), m, func(ctx context.Context) error {
		if err := write(ctx); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Equal(t, int64(1), count(t, orders, &Order{}))
	assert.Equal(t, int64(1), count(t, ledger, &Ledger{}))
}

func TestGormWithoutTransactionUsesPlainConnection(t *testing.T) {
	orders := openGorm(t, "orders", &Order{})
	m := tx.NewManager()

	db, err := orders.DB(m.Bind(context.Background()), m)
	require.NoError(t, err)
	require.NoError(t, db.Create(&Order{Item: "direct"}).Error)
	assert.Equal(t, int64(1), count(t, orders, &Order{}))
	assert.Zero(t, orders.Active())
}

func TestGormHandlesOfSameManagerJoin(t *testing.T) {
	orders := openGorm(t, "orders", &Order{})
	txn := tx.NewManager().NewTransaction()
	require.NoError(t, txn.Begin())

	first, second := orders.Resource(), orders.Resource()
	ok, err := txn.EnlistResource(first)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = txn.EnlistResource(second)
	require.NoError(t, err)
	require.True(t, ok)

	es := txn.Enlistments()
	assert.False(t, es[1].IsCommitTarget())
	assert.Equal(t, 1, orders.Active())

	branch, err := orders.Branch(es[1].Xid())
	require.NoError(t, err)
	require.NoError(t, branch.Create(&Order{Item: "joined"}).Error)

	require.NoError(t, txn.Commit())
	assert.Equal(t, int64(1), count(t, orders, &Order{}))
	assert.Zero(t, orders.Active())
}

func TestGormUnknownBranch(t *testing.T) {
	orders := openGorm(t, "orders", &Order{})
	r := orders.Resource()
	xid := tx.Xid{FormatID: 1, GlobalID: []byte("missing")}

	assert.ErrorIs(t, r.Commit(xid, true), txres.ErrUnknownBranch)
	assert.ErrorIs(t, r.Rollback(xid), txres.ErrUnknownBranch)
	assert.ErrorIs(t, r.Start(xid, tx.FlagJoin), txres.ErrUnknownBranch)
	_, err := r.Prepare(xid)
	assert.ErrorIs(t, err, txres.ErrUnknownBranch)

	require.NoError(t, r.Start(xid, tx.FlagNoFlags))
	assert.ErrorIs(t, orders.Resource().Start(xid, tx.FlagNoFlags), txres.ErrDuplicateBranch)
	require.NoError(t, r.Rollback(xid))
	assert.Equal(t, "sqlite", r.VendorName())
}
