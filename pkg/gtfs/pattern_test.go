package gtfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeTwo(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want []string
		ok   bool
	}{
		{
			name: "identical",
			a:    []string{"a", "b", "c"},
			b:    []string{"a", "b", "c"},
			want: []string{"a", "b", "c"},
			ok:   true,
		},
		{
			name: "extension",
			a:    []string{"a", "b", "c"},
			b:    []string{"b", "c", "d"},
			want: []string{"a", "b", "c", "d"},
			ok:   true,
		},
		{
			name: "extension reversed args",
			a:    []string{"b", "c", "d"},
			b:    []string{"a", "b", "c"},
			want: []string{"a", "b", "c", "d"},
			ok:   true,
		},
		{
			name: "express skips a stop",
			a:    []string{"a", "b", "c"},
			b:    []string{"a", "c"},
			want: []string{"a", "b", "c"},
			ok:   true,
		},
		{
			name: "short run subsequence",
			a:    []string{"a", "b", "c", "d"},
			b:    []string{"a", "b"},
			want: []string{"a", "b", "c", "d"},
			ok:   true,
		},
		{
			name: "no common stops",
			a:    []string{"a", "b"},
			b:    []string{"x", "y"},
			ok:   false,
		},
		{
			name: "conflicting branch",
			a:    []string{"a", "p", "b"},
			b:    []string{"a", "q", "b"},
			ok:   false,
		},
		{
			name: "overlap not at either head",
			a:    []string{"x", "a", "b"},
			b:    []string{"y", "a", "b"},
			ok:   false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := mergeTwo(tc.a, tc.b)
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestMergePatterns(t *testing.T) {
	merged := mergePatterns([][]string{
		{"a", "b", "c"},
		{"c", "d", "e"},
		{"e", "f"},
	})
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, merged)
}

func TestMergeAnyPair(t *testing.T) {
	queue, ok := mergeAnyPair([][]string{
		{"a", "b"},
		{"x", "y"},
		{"b", "c"},
	})
	require.True(t, ok)
	require.Len(t, queue, 2)
	assert.Contains(t, queue, []string{"a", "b", "c"})
	assert.Contains(t, queue, []string{"x", "y"})

	_, ok = mergeAnyPair([][]string{
		{"a", "b"},
		{"x", "y"},
	})
	assert.False(t, ok)
}

func TestMergePatternsDropsLeftovers(t *testing.T) {
	merged := mergePatterns([][]string{
		{"x", "y"},
		{"a", "b"},
	})
	assert.Equal(t, []string{"a", "b"}, merged)
}

func TestMergePatternsEmpty(t *testing.T) {
	assert.Nil(t, mergePatterns(nil))
}

func TestRouteStopPatterns(t *testing.T) {
	feed := writeFeed(t, map[string]string{
		"routes.txt": "route_id,route_short_name,route_long_name\n" +
			"15-767-A,767,Box Hill - Chadstone\n" +
			"15-767-B,767,Box Hill - Chadstone\n",
		"trips.txt": "route_id,trip_id,trip_headsign,direction_id\n" +
			"15-767-A,t1,Chadstone,0\n" +
			"15-767-B,t2,Chadstone,0\n" +
			"15-767-A,t3,Box Hill,1\n",
		"stop_times.txt": "trip_id,arrival_time,stop_id,stop_sequence\n" +
			"t1,08:00:00,a,1\n" +
			"t1,08:05:00,b,2\n" +
			"t1,08:10:00,c,3\n" +
			"t2,09:00:00,c,1\n" +
			"t2,09:05:00,d,2\n" +
			"t3,10:00:00,d,1\n" +
			"t3,10:05:00,b,2\n" +
			"t3,10:10:00,a,3\n",
	})

	patterns, err := feed.RouteStopPatterns([]string{"767"})
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	pattern := patterns["767"]

	// direction_id 1 lands in slot 0
	assert.Equal(t, "Box Hill", pattern.Directions[0].Name)
	assert.Equal(t, []string{"d", "b", "a"}, pattern.Directions[0].Stops)

	assert.Equal(t, "Chadstone", pattern.Directions[1].Name)
	assert.Equal(t, []string{"a", "b", "c", "d"}, pattern.Directions[1].Stops)
}

func TestRouteStopPatternsUnknownRoute(t *testing.T) {
	feed := writeFeed(t, map[string]string{
		"routes.txt": "route_id,route_short_name,route_long_name\n" +
			"15-767-A,767,Box Hill - Chadstone\n",
	})

	_, err := feed.RouteStopPatterns([]string{"999"})
	require.ErrorIs(t, err, ErrUnknownRoute)
}
