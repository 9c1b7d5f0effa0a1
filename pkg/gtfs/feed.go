package gtfs

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gsmcwhirter/go-util/v7/deferutil"
	"github.com/gsmcwhirter/go-util/v7/errors"
)

// Trip is a single scheduled run of a route.
type Trip struct {
	ID        string
	Headsign  string
	Direction bool
}

// Stop is a single stop location in a feed.
type Stop struct {
	ID   string
	Name string
	Lat  float64
	Lon  float64
}

// Route groups the route IDs published under one route short name.
type Route struct {
	LongName string
	IDs      []string
}

// Feed reads GTFS text files out of a dataset directory.
type Feed struct {
	dir string
}

func Open(dir string) *Feed {
	return &Feed{dir: dir}
}

var ErrMissingColumn = errors.New("missing column in feed file")

// eachRow streams a feed CSV file row by row, handing each row to fn as a
// column-name lookup. A UTF-8 BOM on the header is tolerated.
func (f *Feed) eachRow(fname string, fn func(row func(col string) (string, bool)) error) error {
	file, err := os.Open(filepath.Join(f.dir, fname))
	if err != nil {
		return errors.Wrap(err, "could not open feed file", "file", fname)
	}
	defer deferutil.CheckDefer(file.Close)

	reader := csv.NewReader(file)
	reader.ReuseRecord = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return errors.Wrap(err, "could not read feed header", "file", fname)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\uFEFF")
		}
		cols[name] = i
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "could not read feed row", "file", fname)
		}

		lookup := func(col string) (string, bool) {
			i, ok := cols[col]
			if !ok || i >= len(record) {
				return "", false
			}
			return record[i], true
		}

		if err := fn(lookup); err != nil {
			return err
		}
	}
}

func column(row func(col string) (string, bool), name, fname string) (string, error) {
	v, ok := row(name)
	if !ok {
		return "", errors.Wrap(ErrMissingColumn, "column not present", "column", name, "file", fname)
	}
	return v, nil
}

// Routes reads routes.txt into a map of route short name to route info.
// One short name may own several route IDs.
func (f *Feed) Routes() (map[string]Route, error) {
	routes := map[string]Route{}

	err := f.eachRow("routes.txt", func(row func(col string) (string, bool)) error {
		num, err := column(row, "route_short_name", "routes.txt")
		if err != nil {
			return err
		}
		id, err := column(row, "route_id", "routes.txt")
		if err != nil {
			return err
		}

		route, ok := routes[num]
		if !ok {
			name, err := column(row, "route_long_name", "routes.txt")
			if err != nil {
				return err
			}
			route = Route{LongName: name}
		}
		route.IDs = append(route.IDs, id)
		routes[num] = route

		return nil
	})
	if err != nil {
		return nil, err
	}

	return routes, nil
}

// Stops reads stops.txt into a map of stop ID to stop info.
func (f *Feed) Stops() (map[string]Stop, error) {
	stops := map[string]Stop{}

	err := f.eachRow("stops.txt", func(row func(col string) (string, bool)) error {
		id, err := column(row, "stop_id", "stops.txt")
		if err != nil {
			return err
		}
		name, err := column(row, "stop_name", "stops.txt")
		if err != nil {
			return err
		}
		latStr, err := column(row, "stop_lat", "stops.txt")
		if err != nil {
			return err
		}
		lonStr, err := column(row, "stop_lon", "stops.txt")
		if err != nil {
			return err
		}

		lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
		if err != nil {
			return errors.Wrap(err, "could not parse stop latitude", "stop", id)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
		if err != nil {
			return errors.Wrap(err, "could not parse stop longitude", "stop", id)
		}

		stops[id] = Stop{ID: id, Name: name, Lat: lat, Lon: lon}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return stops, nil
}

// Trips reads trips.txt, keeping only trips whose route ID appears in
// routeIDs (all trips if routeIDs is nil), grouped by route ID.
func (f *Feed) Trips(routeIDs []string) (map[string][]Trip, error) {
	var want map[string]bool
	if routeIDs != nil {
		want = make(map[string]bool, len(routeIDs))
		for _, id := range routeIDs {
			want[id] = true
		}
	}

	trips := map[string][]Trip{}

	err := f.eachRow("trips.txt", func(row func(col string) (string, bool)) error {
		routeID, err := column(row, "route_id", "trips.txt")
		if err != nil {
			return err
		}
		if want != nil && !want[routeID] {
			return nil
		}

		tripID, err := column(row, "trip_id", "trips.txt")
		if err != nil {
			return err
		}
		headsign, err := column(row, "trip_headsign", "trips.txt")
		if err != nil {
			return err
		}
		dirStr, err := column(row, "direction_id", "trips.txt")
		if err != nil {
			return err
		}

		dir, err := strconv.Atoi(strings.TrimSpace(dirStr))
		if err != nil {
			return errors.Wrap(err, "could not parse trip direction", "trip", tripID)
		}

		trips[routeID] = append(trips[routeID], Trip{
			ID:        tripID,
			Headsign:  headsign,
			Direction: dir != 0,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return trips, nil
}

// TripStopSequences reads stop_times.txt and returns each requested
// trip's stop IDs ordered by stop_sequence. File order is not assumed.
func (f *Feed) TripStopSequences(tripIDs []string) (map[string][]string, error) {
	type seqStop struct {
		seq  int
		stop string
	}

	want := make(map[string][]seqStop, len(tripIDs))
	for _, id := range tripIDs {
		want[id] = nil
	}

	err := f.eachRow("stop_times.txt", func(row func(col string) (string, bool)) error {
		tripID, err := column(row, "trip_id", "stop_times.txt")
		if err != nil {
			return err
		}
		if _, ok := want[tripID]; !ok {
			return nil
		}

		stopID, err := column(row, "stop_id", "stop_times.txt")
		if err != nil {
			return err
		}
		seqStr, err := column(row, "stop_sequence", "stop_times.txt")
		if err != nil {
			return err
		}

		seq, err := strconv.Atoi(strings.TrimSpace(seqStr))
		if err != nil {
			return errors.Wrap(err, "could not parse stop sequence", "trip", tripID)
		}

		want[tripID] = append(want[tripID], seqStop{seq: seq, stop: stopID})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sequences := make(map[string][]string, len(want))
	for tripID, stops := range want {
		sort.Slice(stops, func(i, j int) bool { return stops[i].seq < stops[j].seq })
		ordered := make([]string, len(stops))
		for i, s := range stops {
			ordered[i] = s.stop
		}
		sequences[tripID] = ordered
	}

	return sequences, nil
}
