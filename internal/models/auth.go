package models

import "github.com/golang-jwt/jwt/v5"

// UserRole identifies the caller's role embedded in access tokens.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleTeacher UserRole = "teacher"
	RoleStaff   UserRole = "staff"
)

// JWTClaims are the access-token claims issued by the identity service.
type JWTClaims struct {
	UserID string   `json:"uid"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}
