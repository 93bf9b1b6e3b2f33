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
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/spatialmodel/sebal"
	"github.com/spatialmodel/sebal/fields"
)

// Run processes the configured scenes through the surface energy
// balance and writes out the resulting daily evapotranspiration.
//
// CobraCommand is the cobra.Command instance where Run is called from.
//
// LogFile is the path to the desired logfile location. It can refer
// to a blob storage location.
//
// OutputFile is the template for the per-scene output file names,
// with '{scene}' standing in for the scene name. An empty template
// disables per-scene output.
//
// OutputVariables specifies which variables should be included in the
// per-scene output files, as expressions over the scene rasters.
//
// CollectionFile is the path of the NetCDF file collecting the daily
// evapotranspiration rasters of all scenes. An empty path disables
// the collection output.
//
// SceneFiles are the paths of the scene files to process.
//
// MeteorologyFile is the path of the CSV file holding the weather
// records that scenes are matched against by acquisition time, and
// MaxGap is the largest tolerated distance between a scene and its
// record (zero selects the default of 24 hours).
//
// ElevationFile is the path of a NetCDF digital elevation model; if
// it is empty, scenes without their own elevation band are taken to
// be at sea level. ElevationVar is the name of the terrain height
// variable in ElevationFile.
//
// FieldsDB is the connection URL of the PostGIS field database. If it
// is not empty, the per-field averages of each scene are recorded
// there.
//
// cfg holds the algorithm parameters.
func Run(CobraCommand *cobra.Command, LogFile string, OutputFile string,
	OutputVariables map[string]string, CollectionFile string, SceneFiles []string,
	MeteorologyFile string, MaxGap time.Duration, ElevationFile, ElevationVar string,
	FieldsDB string, cfg *sebal.Config) error {

	startTime := time.Now()
	ctx := context.Background()

	var upload uploader

	logfile, err := os.Create(upload.maybeUpload(LogFile))
	if err != nil {
		return fmt.Errorf("sebal: problem creating log file: %v", err)
	}
	defer logfile.Close()
	mw := io.MultiWriter(CobraCommand.OutOrStdout(), logfile)
	logger := logrus.New()
	logger.Out = mw

	if MeteorologyFile == "" {
		return fmt.Errorf("sebal: no MeteorologyFile is specified, so scenes cannot be matched with weather records")
	}
	mf, err := os.Open(MeteorologyFile)
	if err != nil {
		return fmt.Errorf("sebal: problem opening MeteorologyFile: %v", err)
	}
	met, err := sebal.LoadMeteorologyCSV(mf)
	mf.Close()
	if err != nil {
		return err
	}
	met.MaxGap = MaxGap

	var terrain sebal.ElevationSource
	if ElevationFile != "" {
		terrain, err = sebal.OpenNetCDFElevation(ElevationFile, ElevationVar)
		if err != nil {
			return err
		}
	}

	if len(SceneFiles) == 0 {
		return fmt.Errorf("sebal: no SceneFiles are specified, so there is nothing to process")
	}

	if OutputFile != "" {
		// Reject malformed output expressions before processing
		// anything.
		logger.Info("parsing output variable expressions")
		if _, err := sebal.NewOutputter(OutputFile, OutputVariables, nil); err != nil {
			return err
		}
	}
	if upload.err != nil {
		return upload.err
	}

	c := &sebal.Collection{
		Scenes:      sebal.FileSceneSource(SceneFiles...),
		Meteorology: met,
		Terrain:     terrain,
		Config:      cfg,
		Log:         logger,
	}
	results, err := c.Run(ctx)
	if err != nil {
		return fmt.Errorf("sebal: problem processing scenes: %v", err)
	}

	if CollectionFile != "" {
		f, err := os.Create(upload.maybeUpload(CollectionFile))
		if err != nil {
			return fmt.Errorf("sebal: problem creating collection file: %v", err)
		}
		if err := sebal.WriteResults(f, results); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	if OutputFile != "" {
		for _, r := range results {
			fname := strings.Replace(OutputFile, "{scene}", r.Name, -1)
			o, err := sebal.NewOutputter(upload.maybeUpload(fname), OutputVariables, nil)
			if err != nil {
				return err
			}
			o.Proj = r.Scene.Proj
			if err := o.CheckOutputVars()(r.Scene); err != nil {
				return err
			}
			if err := o.Output()(r.Scene); err != nil {
				return err
			}
		}
	}
	if upload.err != nil {
		return upload.err
	}

	if FieldsDB != "" {
		store, err := fields.Connect(ctx, FieldsDB)
		if err != nil {
			return err
		}
		store.Log = logger
		if err := store.InitSchema(ctx); err != nil {
			store.Close(ctx)
			return err
		}
		if err := store.RecordResults(ctx, results); err != nil {
			store.Close(ctx)
			return err
		}
		if err := store.Close(ctx); err != nil {
			return err
		}
	}

	if err := upload.uploadOutput(); err != nil {
		return err
	}

	logger.Printf("Elapsed time: %v", time.Since(startTime))
	return nil
}
