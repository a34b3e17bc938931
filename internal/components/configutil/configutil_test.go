package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	BaseUrl  string   `json:"base_url"`
	Interval int      `json:"interval"`
	Database Database `json:"database"`
}

func TestReadConfigMergesLocal(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{
		// comments are allowed
		base_url: "https://status.example.com",
		interval: 10,
		database: { file: "state.db" },
	}`), 0644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{
		interval: 3,
	}`), 0644)
	require.NoError(t, err)

	config, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, "https://status.example.com", config.BaseUrl)
	require.Equal(t, 3, config.Interval)
	require.Equal(t, "state.db", config.Database.File)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "config.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenMemoryDB(t *testing.T) {
	db, err := Database{File: ":memory:"}.OpenDB("create table t (x integer);")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("insert into t (x) values (1)")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow("select count(*) from t").Scan(&count))
	require.Equal(t, 1, count)
}

func TestOpenDBRequiresTarget(t *testing.T) {
	_, err := Database{}.OpenDB("")
	require.Error(t, err)
}
