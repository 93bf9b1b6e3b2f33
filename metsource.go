/*
Copyright © 2025 the SEBAL authors.
This file is part of SEBAL.

SEBAL is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

SEBAL is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with SEBAL.  If not, see <http://www.gnu.org/licenses/>.
*/

package sebal

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/unit"
)

// metColumns are the required column headers of a meteorology table.
var metColumns = []string{
	"time",
	"air_temperature",
	"wind_speed",
	"relative_humidity",
	"net_radiation_24h",
}

// TableMeteorology is a MeteorologySource backed by a time-indexed
// table of station or reanalysis aggregates, the common form weather
// inputs arrive in for batch processing. The table applies to the
// whole processing region, so the region argument of Meteorology is
// ignored.
type TableMeteorology struct {
	// MaxGap is the largest tolerated distance between a scene's
	// acquisition time and the nearest table record. The zero value
	// means 24 hours.
	MaxGap time.Duration

	times []time.Time
	rows  []Meteorology
}

// LoadMeteorologyCSV reads a meteorology table from CSV data. The
// header must contain the columns time, air_temperature [K],
// wind_speed [m/s], relative_humidity [percent], and
// net_radiation_24h [W/m²], in any order; timestamps are RFC 3339 or
// calendar dates (2006-01-02).
func LoadMeteorologyCSV(r io.Reader) (*TableMeteorology, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("sebal: reading meteorology table: %v", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("sebal: meteorology table has no data rows")
	}
	cols := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		cols[name] = i
	}
	for _, name := range metColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("sebal: meteorology table is missing column %s", name)
		}
	}

	t := new(TableMeteorology)
	for i, rec := range records[1:] {
		rowErr := func(err error) error {
			return fmt.Errorf("sebal: meteorology table row %d: %v", i+2, err)
		}
		when, err := parseMetTime(rec[cols["time"]])
		if err != nil {
			return nil, rowErr(err)
		}
		vals := make(map[string]float64, len(metColumns)-1)
		for _, name := range metColumns[1:] {
			v, err := strconv.ParseFloat(rec[cols[name]], 64)
			if err != nil {
				return nil, rowErr(fmt.Errorf("column %s: %v", name, err))
			}
			vals[name] = v
		}
		met, err := NewMeteorology(
			unit.New(vals["air_temperature"], unit.Kelvin),
			unit.New(vals["wind_speed"], unit.MeterPerSecond),
			unit.New(vals["relative_humidity"], unit.Dimless),
			unit.New(vals["net_radiation_24h"], wattPerMeter2),
		)
		if err != nil {
			return nil, rowErr(err)
		}
		t.times = append(t.times, when)
		t.rows = append(t.rows, met)
	}
	sort.Sort(byTime{t.times, t.rows})
	return t, nil
}

func parseMetTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// byTime sorts the table rows by time, keeping times and rows aligned.
type byTime struct {
	times []time.Time
	rows  []Meteorology
}

func (b byTime) Len() int           { return len(b.times) }
func (b byTime) Less(i, j int) bool { return b.times[i].Before(b.times[j]) }
func (b byTime) Swap(i, j int) {
	b.times[i], b.times[j] = b.times[j], b.times[i]
	b.rows[i], b.rows[j] = b.rows[j], b.rows[i]
}

// Meteorology returns the table record nearest to t, or an error if
// no record lies within MaxGap of it.
func (m *TableMeteorology) Meteorology(ctx context.Context, t time.Time, region geom.Polygonal) (Meteorology, error) {
	if len(m.times) == 0 {
		return Meteorology{}, fmt.Errorf("sebal: meteorology table is empty")
	}
	maxGap := m.MaxGap
	if maxGap == 0 {
		maxGap = 24 * time.Hour
	}
	i := sort.Search(len(m.times), func(i int) bool {
		return !m.times[i].Before(t)
	})
	best := -1
	var bestGap time.Duration
	for _, j := range []int{i - 1, i} {
		if j < 0 || j >= len(m.times) {
			continue
		}
		gap := m.times[j].Sub(t)
		if gap < 0 {
			gap = -gap
		}
		if best < 0 || gap < bestGap {
			best, bestGap = j, gap
		}
	}
	if bestGap > maxGap {
		return Meteorology{}, fmt.Errorf("sebal: no meteorology within %v of %v; nearest record is %v away",
			maxGap, t.Format(time.RFC3339), bestGap)
	}
	return m.rows[best], nil
}
