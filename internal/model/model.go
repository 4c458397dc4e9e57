// Package model содержит доменные сущности сервиса маркетплейса запчастей.
package model

import "time"

// Role описывает роль пользователя маркетплейса.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleSeller   Role = "SELLER"
	RoleAdmin    Role = "ADMIN"
)

// Valid сообщает, является ли роль известной.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// User представляет зарегистрированного пользователя маркетплейса.
type User struct {
	ID           int64
	Email        string
	PasswordHash []byte
	Role         Role
	CreatedAt    time.Time
}

// Actor: пользователь, от имени которого выполняется операция.
type Actor struct {
	UserID int64
	Role   Role
}

// IsAdmin сообщает, что операцию выполняет администратор.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
