//go:build mage

// Package main provides build targets for the catalog using Mage.
//
// Usage:
//
//	mage build          Compile the catalog CLI and the orphan sweeper to bin/
//	mage lambda         Build the orphan sweeper for the provided.al2023 runtime
//	mage test           Run unit tests
//	mage e2e            Run end-to-end tests against DynamoDB
//	mage vet            Run go vet
//	mage lint           Run golangci-lint
//	mage clean          Remove build artifacts
package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo     = "go"
	binLint   = "golangci-lint"
	binaryDir = "bin"
)

// commands maps binary names to their packages.
var commands = map[string]string{
	"catalog":        "./cmd/catalog",
	"orphan-sweeper": "./cmd/orphan-sweeper",
}

// Build compiles every command to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	for name, pkg := range commands {
		if err := sh.RunV(binGo, "build", "-v", "-o", filepath.Join(binaryDir, name), pkg); err != nil {
			return err
		}
	}
	return nil
}

// Lambda builds the orphan sweeper as bin/lambda/bootstrap for arm64.
func Lambda() error {
	dir := filepath.Join(binaryDir, "lambda")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	env := map[string]string{"GOOS": "linux", "GOARCH": "arm64", "CGO_ENABLED": "0"}
	return sh.RunWithV(env, binGo, "build", "-tags", "lambda.norpc", "-o", filepath.Join(dir, "bootstrap"), commands["orphan-sweeper"])
}

// Test runs the unit tests.
func Test() error {
	return sh.RunV(binGo, "test", "-race", "./...")
}

// E2E runs the end-to-end tests. They need AWS credentials, or
// CATALOG_E2E_ENDPOINT pointing at DynamoDB Local.
func E2E() error {
	return sh.RunV(binGo, "test", "-tags=e2e", "-v", "./e2e/...")
}

// Vet runs go vet, including the e2e-tagged files.
func Vet() error {
	if err := sh.RunV(binGo, "vet", "./..."); err != nil {
		return err
	}
	return sh.RunV(binGo, "vet", "-tags=e2e", "./e2e/...")
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.RunV(binLint, "run", "./...")
}

// Check runs vet and the unit tests.
func Check() {
	mg.SerialDeps(Vet, Test)
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}
