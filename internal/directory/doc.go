// Package directory resolves card identities to people.
//
// The identity source is a spreadsheet workbook maintained by hand
// outside this system: worksheets are searched in configured order,
// columns are addressed by letter, and lookups treat the workbook as
// read-only. Removal blanks matching rows in place after writing a
// backup copy, so hand-applied formatting in the rest of the workbook
// survives.
package directory
