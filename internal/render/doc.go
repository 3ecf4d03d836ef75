// Package render formats decoded TRBs for people: the dword hex dump, field
// values padded to their width, names for coded fields and terminal tables.
package render
