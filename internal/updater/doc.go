// Package updater runs one update or statistics collection session against
// a connected Talking Book.
//
// The Engine owns the step sequence: it gathers statistics and user
// recordings first, then (unless collecting only) reformats or relabels,
// replaces system files and content, verifies, and finally zips the
// gathered data and writes the operation logs. Generation specific work is
// delegated to a Strategy chosen once per session from the device version.
//
// A failure while gathering statistics ends that phase but not the update;
// a failure while updating aborts the remaining update steps. In every case
// the gathered data is archived and the operation is logged before Run
// returns a Result describing what happened.
package updater
