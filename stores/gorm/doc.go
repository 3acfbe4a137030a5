//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based implementation of secretly.UserStore.
// It supports any database that GORM supports (PostgreSQL, SQLite, etc.)
// and is the store used for production deployments.
//
// # Database Schema
//
// AutoMigrate creates the following tables:
//   - users: accounts, with unique nullable username and federated_id columns
//   - secrets: append-only list of secrets, one row per submission
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	gormstore.AutoMigrate(db)
//	users := gormstore.NewUserStore(db)
package gorm
