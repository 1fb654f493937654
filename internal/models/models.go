package models

// All lists every persisted model in migration order.
func All() []any {
	return []any{
		&User{},
		&Role{},
		&Department{},
		&AccessGrantTemplate{},
		&AccessGrant{},
		&Assignment{},
		&AuditLog{},
	}
}
