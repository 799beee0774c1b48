// Package store defines domain records and interfaces for persistence
// dependencies (tenants, members, locations, sync runs). Implementations live
// in other packages; this package must not import database drivers or
// concrete clients.
package store
