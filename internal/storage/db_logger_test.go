package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	customlogger "tg-postplanner/internal/logger"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestNewCustomGormLogger_Levels(t *testing.T) {
	tests := map[string]logger.LogLevel{
		"debug":   logger.Info,
		"INFO":    logger.Warn,
		"WARNING": logger.Warn,
		"ERROR":   logger.Error,
		"bogus":   logger.Warn,
	}
	for level, want := range tests {
		l := NewCustomGormLogger(level).(*CustomGormLogger)
		assert.Equal(t, want, l.LogLevel, level)
	}
}

func TestCustomGormLogger_Trace(t *testing.T) {
	var buf bytes.Buffer
	customlogger.Logger().SetOutput(&buf)
	t.Cleanup(func() { customlogger.Logger().SetOutput(os.Stdout) })

	l := NewCustomGormLogger("INFO").(*CustomGormLogger)
	l.SkipCallerLookup = true
	stmt := func() (string, int64) { return "UPDATE posts SET state='reminded'", 0 }

	l.Trace(context.Background(), time.Now(), stmt, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String(), "missing rows are not errors")

	l.Trace(context.Background(), time.Now(), stmt, errors.New("database is locked"))
	assert.Contains(t, buf.String(), "UPDATE posts SET state='reminded'; error=database is locked")

	buf.Reset()
	l.Trace(context.Background(), time.Now().Add(-time.Second), stmt, nil)
	assert.Contains(t, buf.String(), "SLOW SQL >= 200ms")

	buf.Reset()
	l.LogMode(logger.Silent).Trace(context.Background(), time.Now(), stmt, errors.New("ignored"))
	assert.Empty(t, buf.String())
}
