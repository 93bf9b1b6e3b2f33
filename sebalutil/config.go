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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/lnashier/viper"
	"github.com/spf13/cast"

	"github.com/spatialmodel/sebal"
	"github.com/spatialmodel/sebal/fields"
)

// checkOutputVars removes end lines and expands environment
// variables in the output variables.
func checkOutputVars(vars map[string]string) (map[string]string, error) {
	if len(vars) == 0 {
		return nil, fmt.Errorf("there are no variables specified for output. Please fill in " +
			"the OutputVariables configuration and try again.")
	}
	for k, v := range vars {
		v = strings.Replace(v, "\r\n", " ", -1)
		v = strings.Replace(v, "\n", " ", -1)
		vars[os.ExpandEnv(k)] = os.ExpandEnv(v)
	}
	return vars, nil
}

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}

// checkOutputFile makes sure that the per-scene output file template
// is well formed and its directory exists, and expands any
// environment variables.
func checkOutputFile(f string) (string, error) {
	if f == "" {
		return "", fmt.Errorf(`you need to specify an output file configuration variable (for example: OutputFile="{scene}_et.shp")`)
	}
	f = os.ExpandEnv(f)
	if !strings.Contains(f, "{scene}") {
		return f, fmt.Errorf("sebalutil: the OutputFile template %q does not contain a {scene} placeholder", f)
	}
	if IsBlob(f) {
		url, err := url.Parse(f)
		if err != nil {
			return f, err
		}
		_, err = OpenBucket(context.TODO(), url.Scheme+"://"+url.Host)
		if err != nil {
			return f, fmt.Errorf("sebalutil: error when checking OutputFile location: %v", err)
		}
		return f, nil
	}
	outdir := filepath.Dir(f)
	if _, err := os.Stat(outdir); err != nil {
		return f, fmt.Errorf("sebalutil: the OutputFile directory doesn't exist: %v", err)
	}
	return f, nil
}

// checkLogFile fills in a default value for the log file path if one
// isn't specified.
func checkLogFile(logFile, outputFile string) string {
	if logFile == "" {
		f := strings.Replace(outputFile, "{scene}", "run", 1)
		logFile = strings.TrimSuffix(f, filepath.Ext(f)) + ".log"
	}
	return logFile
}

// sceneConfig assembles the per-scene processing configuration from
// a viper configuration.
func sceneConfig(cfg *viper.Viper) *sebal.Config {
	return &sebal.Config{
		NDVIColdPercentile: cfg.GetFloat64("Anchors.NDVIColdPercentile"),
		LSTColdPercentile:  cfg.GetFloat64("Anchors.LSTColdPercentile"),
		NDVIHotPercentile:  cfg.GetFloat64("Anchors.NDVIHotPercentile"),
		LSTHotPercentile:   cfg.GetFloat64("Anchors.LSTHotPercentile"),
		Passes:             cfg.GetInt("Passes"),
		MaxCloudCover:      cfg.GetFloat64("MaxCloudCover"),
		Workers:            cfg.GetInt("Workers"),
	}
}

// parseMaxGap parses the maximum meteorology record age.
func parseMaxGap(cfg *viper.Viper) (time.Duration, error) {
	s := cfg.GetString("Meteorology.MaxGap")
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("sebalutil: parsing Meteorology.MaxGap: %v", err)
	}
	return d, nil
}

// parseSeason parses the optional growing-season month range used to
// filter per-field time series.
func parseSeason(cfg *viper.Viper) (fields.Season, error) {
	start := cfg.GetInt("Fields.SeasonStart")
	end := cfg.GetInt("Fields.SeasonEnd")
	if (start == 0) != (end == 0) {
		return fields.Season{}, fmt.Errorf("sebalutil: Fields.SeasonStart and Fields.SeasonEnd must be specified together")
	}
	for _, m := range []int{start, end} {
		if m < 0 || m > 12 {
			return fields.Season{}, fmt.Errorf("sebalutil: season month %d is outside 1–12", m)
		}
	}
	return fields.Season{StartMonth: time.Month(start), EndMonth: time.Month(end)}, nil
}

// parseRegion returns the region polygon represented by the given
// GeoJSON file, or nil if no file is given.
func parseRegion(regionGeoJSONFile string) (geom.Polygonal, error) {
	if regionGeoJSONFile == "" {
		return nil, nil
	}
	b, err := os.ReadFile(os.ExpandEnv(regionGeoJSONFile))
	if err != nil {
		return nil, fmt.Errorf("reading region file: %w", err)
	}
	j, err := geojson.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("decoding RegionGeoJSON: %w", err)
	}
	region, ok := j.(geom.Polygonal)
	if !ok {
		return nil, fmt.Errorf("invalid region geometry type %T", j)
	}
	return region, nil
}

// GetStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command line argument.
func GetStringMapString(varName string, cfg *viper.Viper) map[string]string {
	i := cfg.Get(varName)
	switch i.(type) {
	case map[string]string:
		return i.(map[string]string)
	case map[string]interface{}:
		return cast.ToStringMapString(i)
	case string:
		b := bytes.NewBuffer(([]byte)(i.(string)))
		d := json.NewDecoder(b)
		o := make(map[string]string)
		if err := d.Decode(&o); err != nil {
			panic(err)
		}
		return o
	default:
		panic(fmt.Errorf("invalid type for getStringMapString variable %s: %#v", varName, i))
	}
}
