// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

// Package main is churnctl, the Churnguard operator CLI.
//
//	churnctl retrain [--promote]   run the correction loop once
//	churnctl promote               move new_* artifacts over the deployed ones
//	churnctl models                list artifacts in the model directory
//
// churnctl reads the same configuration as churnd. It talks to the document
// store and the model directory directly; after promote, a running churnd
// picks the new models up on POST /admin/reload or restart.
//
// # Exit Codes
//
//   - 0: success, including a carry-over run with too little feedback
//   - 1: failure
//   - 2: a correction run already holds the lock
package main

import (
	"os"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
