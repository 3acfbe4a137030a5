//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of
// secretly.UserStore. It supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
//   - User: accounts, keyed by user id, with secrets stored inline
//   - Username: uniqueness index, keyed by username
//   - FederatedIdentity: uniqueness index, keyed by provider user id
//
// Index entities are written in the same transaction as the user they point
// at, so a username or federated id can never be claimed twice.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	users := gae.NewUserStore(client, "")  // default namespace
package gae
