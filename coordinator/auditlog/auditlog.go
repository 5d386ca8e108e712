// Package auditlog appends one row per finalize submission to MySQL,
// grounded on the teacher's jinzhu/gorm + go-sql-driver/mysql
// dependency pair as used by datasync/chaindatafetcher's repository
// event sink (gorm.Open("mysql", dsn), AutoMigrate, then a plain
// Create per event). Like eventbus and proofcache this is a
// diagnostic side channel: finalize's retry/backoff behavior never
// depends on whether the audit row was written.
package auditlog

import (
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/mysql"
	"github.com/pkg/errors"
)

// Row is one finalize submission record.
type Row struct {
	ID          uint `gorm:"primary_key"`
	BlockNum    uint64
	BlockHash   string
	TxHash      string
	SubmittedAt time.Time
}

// TableName pins the table name rather than letting gorm pluralize
// Row into "rows".
func (Row) TableName() string { return "finalize_submissions" }

// Log appends audit rows to MySQL. A nil *Log is valid and Record on
// it is a no-op.
type Log struct {
	db *gorm.DB
}

// Open dials dsn, migrates the schema, and returns a Log. Pass "" to
// get a nil Log with no connection, for when MYSQL_DSN is unset.
func Open(dsn string) (*Log, error) {
	if dsn == "" {
		return nil, nil
	}
	db, err := gorm.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "auditlog: open mysql")
	}
	if err := db.AutoMigrate(&Row{}).Error; err != nil {
		db.Close()
		return nil, errors.Wrap(err, "auditlog: automigrate")
	}
	return &Log{db: db}, nil
}

// Record appends a row for a successful finalizeBlock submission.
func (l *Log) Record(blockNum uint64, blockHash, txHash string, at time.Time) error {
	if l == nil {
		return nil
	}
	row := &Row{BlockNum: blockNum, BlockHash: blockHash, TxHash: txHash, SubmittedAt: at}
	if err := l.db.Create(row).Error; err != nil {
		return errors.Wrap(err, "auditlog: insert row")
	}
	return nil
}

// Close releases the underlying DB handle. Safe to call on a nil Log.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}
