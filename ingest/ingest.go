// Package ingest implements the watermark driven ingestion of the YinzCam
// realtime analytics API into the data lake.
//
// Each run resolves its resume point from the most recent actions file
// already in the lake, accumulates pages of new records up to a ceiling,
// and writes one CSV per record collection named after the run time and
// the batch's action id range. State lives entirely in the lake, so an
// interrupted run picks up where the last complete file left off.
package ingest

import "path"

// Kind identifies one of the record collections the realtime API returns
// alongside each page of actions.
type Kind string

const (
	Actions  Kind = "actions"
	Sessions Kind = "sessions"
	Geoip    Kind = "geoip"
	Hardware Kind = "hardware"
)

// Collections lists every record kind a page carries.
var Collections = []Kind{Actions, Sessions, Geoip, Hardware}

// collectionColumns fixes the column order of each collection's output
// files. Pages may carry extra fields; only these survive into the lake.
var collectionColumns = map[Kind][]string{
	Actions: {
		"id",
		"in_venue",
		"invisible_date_time",
		"request_date_time",
		"resource_major",
		"resource_minor",
		"session_id",
		"sort_order",
		"type_major",
		"type_minor",
		"yinzid",
	},
	Sessions: {
		"actions",
		"app_id",
		"app_version",
		"carrier",
		"device_adid",
		"device_generated_id",
		"device_id",
		"end_date_time",
		"hardware_device_id",
		"id",
		"mcc",
		"mdn",
		"mnc",
		"os_version",
		"start_date_time",
	},
	Geoip: {
		"city_geoname_id",
		"city_name",
		"continent_code",
		"continent_geoname_id",
		"continent_name",
		"country_code",
		"country_geoname_id",
		"country_name",
		"id",
		"postal_code",
		"session_device_generated_id",
		"subdivision1_code",
		"subdivision1_geoname_id",
		"subdivision1_name",
		"subdivision2_code",
		"subdivision2_geoname_id",
		"subdivision2_name",
		"subdivision3_code",
		"subdivision3_geoname_id",
		"subdivision3_name",
		"subdivision4_code",
		"subdivision4_geoname_id",
		"subdivision4_name",
		"time_zone",
	},
	Hardware: {
		"id",
		"manufacturer",
		"model",
		"platform",
		"screen_width",
		"screen_height",
	},
}

// collectionDir is the lake directory holding one team's files for one
// collection.
func collectionDir(team string, kind Kind) string {
	return path.Join("yinz_cam", team, "realtime_api", string(kind))
}

// reportDir is the lake directory holding one team's monthly report files.
func reportDir(team string) string {
	return path.Join("yinz_cam", team, "realtime_api", "figure_checks")
}
