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

package sebalutil

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/ctessum/geom/proj"
	"github.com/spf13/cobra"

	"github.com/spatialmodel/sebal/fields"
)

// LoadFields reads field boundaries from Shapefile and stores them in
// the database at the FieldsDB connection URL, creating the schema if
// it does not exist yet. NameColumn is the attribute column holding
// the field names. Proj, if not empty, is the Proj4 definition of the
// scene grid projection that boundaries are reprojected into before
// being stored.
func LoadFields(CobraCommand *cobra.Command, FieldsDB, Shapefile, NameColumn, Proj string) error {
	if FieldsDB == "" {
		return fmt.Errorf("sebal: no FieldsDB is specified, so there is nowhere to put the field boundaries")
	}
	if Shapefile == "" {
		return fmt.Errorf("sebal: no Fields.Shapefile is specified, so there are no boundaries to load")
	}
	var sr *proj.SR
	if Proj != "" {
		var err error
		sr, err = proj.Parse(Proj)
		if err != nil {
			return fmt.Errorf("sebal: parsing Fields.Proj: %v", err)
		}
	}
	ctx := context.Background()
	store, err := fields.Connect(ctx, FieldsDB)
	if err != nil {
		return err
	}
	defer store.Close(ctx)
	if err := store.InitSchema(ctx); err != nil {
		return err
	}
	n, err := store.LoadShapefile(ctx, Shapefile, NameColumn, sr)
	if err != nil {
		return err
	}
	CobraCommand.Printf("Loaded %d field boundaries.\n", n)
	return nil
}

// FieldSeries prints the evapotranspiration time series recorded for
// the named field as CSV, optionally restricted to a growing season.
func FieldSeries(CobraCommand *cobra.Command, FieldsDB, Name string, Season fields.Season) error {
	if FieldsDB == "" {
		return fmt.Errorf("sebal: no FieldsDB is specified, so there is no database to query")
	}
	if Name == "" {
		return fmt.Errorf("sebal: no Fields.Name is specified, so there is no field to look up")
	}
	ctx := context.Background()
	store, err := fields.Connect(ctx, FieldsDB)
	if err != nil {
		return err
	}
	defer store.Close(ctx)
	series, err := store.Series(ctx, Name, Season)
	if err != nil {
		return err
	}
	w := csv.NewWriter(CobraCommand.OutOrStdout())
	w.Write([]string{"scene", "date", "et_mm_per_day", "pixels"})
	for _, s := range series {
		w.Write([]string{
			s.Scene,
			s.Acquired.Format("2006-01-02"),
			strconv.FormatFloat(s.ET, 'g', -1, 64),
			strconv.Itoa(s.Pixels),
		})
	}
	w.Flush()
	return w.Error()
}
