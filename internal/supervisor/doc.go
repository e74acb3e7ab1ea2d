// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

// Package supervisor runs churnd's long-lived services under a suture tree.
//
// The tree has two layers so a crashing background job cannot take the
// HTTP listener down with it:
//
//	churnguard
//	├── jobs-layer   scheduled correction loop
//	└── api-layer    HTTP server
//
// Supervisor events are logged through sutureslog into the zerolog adapter
// from internal/logging, so restarts and backoffs appear in the same JSON
// stream as request logs.
package supervisor
