// Package all wires every built-in case store backend into the casestore
// factory. Import it for side effects:
//
//	import _ "amcache/internal/casestore/all"
//
// after which casestore.New accepts the kinds "memory", "sqlite",
// "postgres", "mssql" and "mysql".
//
// Each backend registers itself from an init function, so a binary that
// needs only one store can import that backend package alone and leave the
// other drivers out of the build. The CLI imports all of them because the
// store kind is chosen at run time from configuration.
//
// Example:
//
//	import (
//		"amcache/internal/casestore"
//		_ "amcache/internal/casestore/all"
//	)
//
//	func open(ctx context.Context) (casestore.Store, error) {
//		st, err := casestore.New(ctx, casestore.Config{
//			Kind: "postgres",
//			DSN:  "postgres://amcache@localhost:5432/case?sslmode=disable",
//		})
//		if err != nil {
//			return nil, fmt.Errorf("open case store: %w", err)
//		}
//		return st, nil
//	}
//
// The DSN is passed to the backend unchanged; see each backend package for
// the form it expects.
package all

import (
	_ "amcache/internal/casestore/memory"
	_ "amcache/internal/casestore/mssql"
	_ "amcache/internal/casestore/mysql"
	_ "amcache/internal/casestore/postgres"
	_ "amcache/internal/casestore/sqlite"
)
