// Package oplog writes the audit trail of collection and deployment
// operations into the collected-data tree.
//
// Each operation produces one appended row in the daily tbData CSV, one
// appended record in each of the daily key=value logs, and an overwritten
// single-row projection per kind (tbscollected.csv, tbsdeployed.csv). A
// Publisher may additionally receive the projections.
package oplog
