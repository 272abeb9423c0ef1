// Package all registers every storage backend via blank imports.
// Commands import it once instead of tracking individual backends.
package all

import (
	_ "tracketl/internal/storage/mssql"
	_ "tracketl/internal/storage/mysql"
	_ "tracketl/internal/storage/postgres"
	_ "tracketl/internal/storage/sqlite"
)
