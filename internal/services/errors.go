package services

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// uniqueViolationMessages are driver messages for duplicate keys when the
// error arrives without a typed code, as sqlite errors do.
var uniqueViolationMessages = []string{
	"unique constraint failed",
	"violates unique constraint",
	"duplicate entry",
	"duplicate key",
}

// isUniqueConstraintError reports whether err is a uniqueness violation. Other
// constraint failures such as NOT NULL or foreign keys are not matched.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil {
		return pgErr.Code == "23505"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil {
		return myErr.Number == 1062
	}

	lower := strings.ToLower(err.Error())
	for _, fragment := range uniqueViolationMessages {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
