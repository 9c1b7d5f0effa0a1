package spiffs

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDataset(t *testing.T, mode string, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, mode), 0o755))
	for name, contents := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, mode, name), []byte(contents), 0o644))
	}
	return dir
}

func TestPrepareRootCreates(t *testing.T) {
	root := filepath.Join(t.TempDir(), "fs")
	require.NoError(t, PrepareRoot(root))

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPrepareRootClears(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "3", "route_data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "networks"), []byte("stale"), 0o644))

	require.NoError(t, PrepareRoot(root))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPrepareRootRejectsFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "fs")
	require.NoError(t, os.WriteFile(root, []byte("not a dir"), 0o644))

	require.ErrorIs(t, PrepareRoot(root), ErrNotDirectory)
}

func TestCleanStopName(t *testing.T) {
	name, err := cleanStopName("Box Hill Central (Box Hill) ")
	require.NoError(t, err)
	assert.Equal(t, "Box Hill Central", name)

	name, err = cleanStopName("Plain Stop")
	require.NoError(t, err)
	assert.Equal(t, "Plain Stop", name)

	_, err = cleanStopName("Café Stop")
	require.ErrorIs(t, err, ErrStopName)
}

func TestFixDirectionName(t *testing.T) {
	assert.Equal(t, "Box Hill", fixDirectionName("Chadstone to Box Hill"))
	assert.Equal(t, "Port Melbourne", fixDirectionName("St Kilda to Port Melbourne"))
	assert.Equal(t, "Chadstone", fixDirectionName("Chadstone"))
}

func TestGenerate(t *testing.T) {
	dataset := writeDataset(t, "MetroBus", map[string]string{
		"routes.txt": "route_id,route_short_name,route_long_name\n" +
			"15-767-A,767,Box Hill - Chadstone\n",
		"trips.txt": "route_id,trip_id,trip_headsign,direction_id\n" +
			"15-767-A,t1,Chadstone,0\n" +
			"15-767-A,t2,Box Hill,1\n",
		"stop_times.txt": "trip_id,arrival_time,stop_id,stop_sequence\n" +
			"t1,08:00:00,s1,1\n" +
			"t1,08:05:00,s2,2\n" +
			"t2,09:00:00,s2,1\n" +
			"t2,09:05:00,s1,2\n",
		"stops.txt": "stop_id,stop_name,stop_lat,stop_lon\n" +
			"s1,Box Hill Central (Box Hill),-37.8190,145.1210\n" +
			"s2,Chadstone SC (Malvern East),-37.8866,145.0830\n",
	})

	root := filepath.Join(t.TempDir(), "fs")
	require.NoError(t, PrepareRoot(root))

	gen := &Generator{
		Root:       root,
		DatasetDir: dataset,
		Now:        time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, gen.Generate(map[string][]string{"MetroBus": {"767"}}))

	networks, err := os.ReadFile(filepath.Join(root, "networks"))
	require.NoError(t, err)
	assert.Equal(t, "4:20260830:Metropolitan bus\n", string(networks))

	modePath := filepath.Join(root, "4")

	routes, err := os.ReadFile(filepath.Join(modePath, "routes"))
	require.NoError(t, err)
	assert.Equal(t, "767\n", string(routes))

	// direction_id 1 (t2) fills slot 0, so s2 is the first included stop
	stops, err := os.ReadFile(filepath.Join(modePath, "stops"))
	require.NoError(t, err)

	lat := math.Float32frombits(binary.LittleEndian.Uint32(stops[0:4]))
	lon := math.Float32frombits(binary.LittleEndian.Uint32(stops[4:8]))
	assert.InDelta(t, -37.8866*math.Pi/180.0, float64(lat), 1e-6)
	assert.InDelta(t, 145.0830*math.Pi/180.0, float64(lon), 1e-6)

	name, rest, found := cutNul(stops[8:])
	require.True(t, found)
	assert.Equal(t, "Chadstone SC", name)

	secondOffset := 8 + len(name) + 1

	lat2 := math.Float32frombits(binary.LittleEndian.Uint32(rest[0:4]))
	assert.InDelta(t, -37.8190*math.Pi/180.0, float64(lat2), 1e-6)
	name2, _, found := cutNul(rest[8:])
	require.True(t, found)
	assert.Equal(t, "Box Hill Central", name2)

	stopsMap, err := os.ReadFile(filepath.Join(modePath, "stops.map"))
	require.NoError(t, err)
	require.Len(t, stopsMap, 8)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(stopsMap[0:4]))
	assert.Equal(t, uint32(secondOffset), binary.LittleEndian.Uint32(stopsMap[4:8]))

	info, err := os.ReadFile(filepath.Join(modePath, "route_data", "767", "info"))
	require.NoError(t, err)
	assert.Equal(t, "Box Hill - Chadstone\nBox Hill\nChadstone\n", string(info))

	// stop indexes: s2 = 0, s1 = 1
	seq0, err := os.ReadFile(filepath.Join(modePath, "route_data", "767", "seq0"))
	require.NoError(t, err)
	require.Len(t, seq0, 4)
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(seq0[0:2]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(seq0[2:4]))

	seq1, err := os.ReadFile(filepath.Join(modePath, "route_data", "767", "seq1"))
	require.NoError(t, err)
	require.Len(t, seq1, 4)
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(seq1[0:2]))
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(seq1[2:4]))
}

func TestGenerateUnknownMode(t *testing.T) {
	gen := &Generator{
		Root:       t.TempDir(),
		DatasetDir: t.TempDir(),
		Now:        time.Now(),
	}
	require.ErrorIs(t, gen.Generate(map[string][]string{"MonorailBus": {"1"}}), ErrUnknownMode)
}

func TestGenerateUnknownRoute(t *testing.T) {
	dataset := writeDataset(t, "MetroBus", map[string]string{
		"routes.txt": "route_id,route_short_name,route_long_name\n" +
			"15-767-A,767,Box Hill - Chadstone\n",
		"trips.txt":      "route_id,trip_id,trip_headsign,direction_id\n",
		"stop_times.txt": "trip_id,arrival_time,stop_id,stop_sequence\n",
		"stops.txt":      "stop_id,stop_name,stop_lat,stop_lon\n",
	})

	gen := &Generator{
		Root:       t.TempDir(),
		DatasetDir: dataset,
		Now:        time.Now(),
	}
	err := gen.Generate(map[string][]string{"MetroBus": {"999"}})
	require.Error(t, err)
}

func cutNul(data []byte) (string, []byte, bool) {
	for i, b := range data {
		if b == 0 {
			return string(data[:i]), data[i+1:], true
		}
	}
	return "", nil, false
}
