// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	err := os.WriteFile(path, []byte(`
block_size = 512

[raid]
level = "mirrored"
devices = ["/dev/sdb", "kv://memory?size=1GiB"]

[write]
chunk_size = 8
`), 0o644)
	require.NoError(t, err)

	var cfg Config
	cfg.ConfigPath = path
	require.NoError(t, parse(&cfg))

	assert.Equal(t, 512, cfg.BlockSize)
	assert.Equal(t, "mirrored", cfg.Raid.Level)
	assert.Equal(t, []string{"/dev/sdb", "kv://memory?size=1GiB"}, cfg.Raid.Devices)
	assert.Equal(t, int64(256), cfg.Raid.StripeSize)
	assert.Equal(t, 8*1024*1024, cfg.Write.ChunkSize)
	assert.Equal(t, 32*1024*1024, cfg.Read.BufSize)
}

func TestParseEnvWithoutFile(t *testing.T) {
	t.Setenv("BRAID_RAID_LEVEL", "raid0")
	t.Setenv("BRAID_RAID_STRIPESIZE", "16")
	t.Setenv("BRAID_RAID_DEVICES", "null://?size=1GiB,null://?size=2GiB")
	t.Setenv("BRAID_BLOCKSIZE", "1000")

	var cfg Config
	cfg.ConfigPath = filepath.Join(t.TempDir(), "missing.toml")
	require.NoError(t, parse(&cfg))

	assert.Equal(t, "raid0", cfg.Raid.Level)
	assert.Equal(t, int64(16), cfg.Raid.StripeSize)
	assert.Equal(t, []string{"null://?size=1GiB", "null://?size=2GiB"}, cfg.Raid.Devices)
	assert.Equal(t, 4096, cfg.BlockSize)
}
