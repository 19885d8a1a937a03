// Package domain models single-timestep gridded forecast snapshots and the pure
// transforms applied to them on the way into an incremental output file.
//
// # Snapshot Files
//
// A forecast run writes one snapshot per lead time. The lead time (forecast
// hour) is encoded in the file name after the last "+":
//
//	"pfABOFABOF+0012"      →  forecast hour 12
//	"ICMSHABOF+0012.sfx"   →  forecast hour 12 (extension ignored)
//	"ICMSHABOF+0006:00"    →  forecast hour 6 (minutes must be 00)
//
// Snapshots are ordered by forecast hour. Two files with the same hour, or a
// name without a parsable hour, are rejected with [ErrFormat] before any file is
// decoded. See [ParseForecastHour].
//
// # Field Naming
//
// Vendor field names may contain separators that are not valid in output
// variable names, e.g. "SURFPREC.EAU.CON". A [NameMap] is built once per run and
// rewrites every character outside [A-Za-z0-9_] to "_"; a leading digit gets a
// "v_" prefix. The table is stored in the output as the "name_map" global
// attribute so names can be mapped back.
//
// Vertical levels are flattened into separate 2-D fields by the vendor format:
//
//	Model levels:    S001TEMPERATURE … S090TEMPERATURE   (level 1 = top of atmosphere)
//	Pressure levels: P85000TEMPERATURE, P50000TEMPERATURE (value in Pa)
//
// "P00000" means 1000 hPa (100000 Pa). Groups with more than one member are
// stacked into one variable with a "level" (model, ascending) or "pressure"
// (descending, so index 0 is nearest the surface) dimension. Pressure groups get
// a "P_" prefix to keep them apart from model-level groups. See
// [DetectLevelGroups].
//
// # De-accumulation
//
// Precipitation and flux fields are accumulated since the start of the
// forecast. The output stores the amount accumulated during each interval
// instead: interval(h) = cumulative(h) − cumulative(previous file). The
// [Deaccumulator] keeps the previous cumulative field in an explicit
// [DeaccumState] that the caller owns and carries across chunks, so the result
// for hour h never depends on how the run was chunked.
//
// Negative intervals appear when the model resets an accumulation. They are
// clamped to zero and counted rather than treated as errors.
package domain
