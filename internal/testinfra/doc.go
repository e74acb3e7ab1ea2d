// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

// Package testinfra starts real dependencies for integration tests with
// testcontainers-go.
//
// Everything here is behind the integration build tag:
//
//	go test -tags integration ./internal/store/...
//
// # MongoDB Container
//
//	func TestMongoUpsert(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//	    mongo, err := testinfra.NewMongoContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, mongo)
//
//	    s, err := store.OpenMongo(ctx, store.MongoConfig{URI: mongo.URI, Database: "churn_test"}, zerolog.Nop())
//	    // ...
//	}
//
// Tests are skipped when no Docker daemon is reachable.
package testinfra
