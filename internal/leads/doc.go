// Package leads implements the lead-capture HTTP boundary: field-validated
// submission with duplicate-email detection, and paginated listing, backed
// by SQLite.
package leads
