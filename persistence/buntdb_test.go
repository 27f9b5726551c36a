package persistence

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/hobbyhub-chat/config"
)

func testConfig(typ, dsn string) *config.Config {
	cfg := &config.Config{}
	cfg.HistoryConfig.HistorySize = 50
	cfg.HistoryConfig.MaxLogBytes = 64 * 1024
	cfg.PersistenceConfig.Type = typ
	cfg.PersistenceConfig.DSN = dsn
	return cfg
}

func TestBuntDBPersister(t *testing.T) {
	p, err := NewPersister(testConfig("buntdb", ":memory:"))
	require.NoError(t, err)
	defer p.Close()
	runPersisterSuite(t, p)
}

func TestBuntDBFileLock(t *testing.T) {
	dir, err := ioutil.TempDir("", "hobbyhub-buntdb")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	cfg := testConfig("buntdb", filepath.Join(dir, "chat.db"))

	p, err := NewBuntPersister(cfg)
	require.NoError(t, err)
	require.NoError(t, p.AppendMessage(testMessage("pottery-general", 1)))

	_, err = NewBuntPersister(cfg)
	assert.Error(t, err)

	require.NoError(t, p.Close())
	p, err = NewBuntPersister(cfg)
	require.NoError(t, err)
	defer p.Close()
	messages, err := p.GetMessages("pottery-general")
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestUnknownPersistenceType(t *testing.T) {
	_, err := NewPersister(testConfig("mongo", "x"))
	assert.Error(t, err)
}
