// Package all is a meta-package that imports all store implementations so
// they register themselves by name.
package all

import (
	_ "github.com/uvensys/miaoeyes/lib/store/bbolt"
	_ "github.com/uvensys/miaoeyes/lib/store/memory"
	_ "github.com/uvensys/miaoeyes/lib/store/valkey"
)
