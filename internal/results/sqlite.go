package results

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/iti/v2xsim/internal/link"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqliteBatch is the number of observations buffered before an insert.
const sqliteBatch = 2000

// LinkRecord is the table row for one observation.
type LinkRecord struct {
	ID            uint    `gorm:"primarykey"`
	Time          float64 `gorm:"index"`
	SenderID      int32   `gorm:"index:idx_pair"`
	ReceiverID    int32   `gorm:"index:idx_pair"`
	Distance      float64
	SpeedSender   float64
	SpeedReceiver float64
	PacketSize    int
	RSSI          float64 `gorm:"column:rssi"`
	DelayMs       float64
	PacketLoss    bool
}

// TableName keeps the table name stable across gorm naming strategies.
func (LinkRecord) TableName() string {
	return "link_observations"
}

func recordFrom(obs link.Observation) LinkRecord {
	return LinkRecord{
		Time:          obs.Time,
		SenderID:      obs.Sender,
		ReceiverID:    obs.Receiver,
		Distance:      obs.Distance,
		SpeedSender:   obs.SpeedSender,
		SpeedReceiver: obs.SpeedReceiver,
		PacketSize:    obs.PacketSize,
		RSSI:          obs.RSSI,
		DelayMs:       obs.DelayMs,
		PacketLoss:    obs.Lost,
	}
}

// SQLiteSink stores observations in a SQLite database through gorm.  Rows
// are buffered and written in batches; Close flushes the remainder.
type SQLiteSink struct {
	db  *gorm.DB
	buf []LinkRecord
}

// OpenSQLite opens (or creates) the database at path and migrates the
// observation table.  Existing rows are removed so each run starts clean.
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        sqliteBatch,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.AutoMigrate(&LinkRecord{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite %s: %w", path, err)
	}
	if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&LinkRecord{}).Error; err != nil {
		return nil, fmt.Errorf("reset sqlite %s: %w", path, err)
	}
	return &SQLiteSink{db: db, buf: make([]LinkRecord, 0, sqliteBatch)}, nil
}

// Record buffers obs, writing a batch when the buffer is full.
func (ss *SQLiteSink) Record(obs link.Observation) error {
	ss.buf = append(ss.buf, recordFrom(obs))
	if len(ss.buf) >= sqliteBatch {
		return ss.Flush()
	}
	return nil
}

// Flush writes all buffered rows.
func (ss *SQLiteSink) Flush() error {
	if len(ss.buf) == 0 {
		return nil
	}
	if err := ss.db.CreateInBatches(ss.buf, sqliteBatch).Error; err != nil {
		return fmt.Errorf("insert observations: %w", err)
	}
	ss.buf = ss.buf[:0]
	return nil
}

// Count returns the number of stored rows, flushing first.
func (ss *SQLiteSink) Count() (int64, error) {
	if err := ss.Flush(); err != nil {
		return 0, err
	}
	var n int64
	err := ss.db.Model(&LinkRecord{}).Count(&n).Error
	return n, err
}

// DB exposes the underlying handle for queries.
func (ss *SQLiteSink) DB() *gorm.DB {
	return ss.db
}

// Close flushes and closes the database.
func (ss *SQLiteSink) Close() error {
	ferr := ss.Flush()
	sqlDB, err := ss.db.DB()
	if err != nil {
		return err
	}
	if cerr := sqlDB.Close(); cerr != nil {
		return cerr
	}
	return ferr
}
