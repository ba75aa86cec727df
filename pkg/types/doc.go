// Package types defines the shared vocabulary of the larder runtime: class,
// property, and relationship definitions, the Catalog that validates them,
// store records and the DataStore interface, backend configuration, and the
// standard errors every other package returns.
//
// Nothing in this package holds runtime state beyond the Catalog; domain
// objects live in package bo and store implementations live under internal/.
package types
