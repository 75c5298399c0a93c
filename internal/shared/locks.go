package shared

import "fmt"

// CloseLockKey builds the redis key guarding fiscal year closing.
func CloseLockKey(entityID int64, year int) string {
	return fmt.Sprintf("ledger:close:%d:%d:lock", entityID, year)
}
