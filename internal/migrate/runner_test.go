package migrate

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover_Embedded(t *testing.T) {
	files, err := Discover(Embedded())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(files), 2)
	assert.Equal(t, int64(1), files[0].Version)
	assert.Equal(t, "0001_create_devices_up.sql", files[0].Path)
	for i := 1; i < len(files); i++ {
		assert.Less(t, files[i-1].Version, files[i].Version)
	}
}

func TestDiscover_Rules(t *testing.T) {
	t.Run("忽略down与非数字前缀", func(t *testing.T) {
		fsys := fstest.MapFS{
			"0003_c_up.sql":        {Data: []byte("SELECT 3")},
			"0001_a_up.sql":        {Data: []byte("SELECT 1")},
			"0001_a_down.sql":      {Data: []byte("SELECT 0")},
			"readme_up.sql":        {Data: []byte("--")},
			"nested/0002_b_up.sql": {Data: []byte("SELECT 2")},
		}
		files, err := Discover(fsys)
		require.NoError(t, err)
		var versions []int64
		for _, f := range files {
			versions = append(versions, f.Version)
		}
		assert.Equal(t, []int64{1, 2, 3}, versions)
	})

	t.Run("版本重复报错", func(t *testing.T) {
		fsys := fstest.MapFS{
			"0001_a_up.sql": {Data: []byte("SELECT 1")},
			"0001_b_up.sql": {Data: []byte("SELECT 1")},
		}
		_, err := Discover(fsys)
		assert.ErrorContains(t, err, "duplicate migration version 1")
	})
}
