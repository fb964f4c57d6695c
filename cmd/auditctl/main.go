// Package main is the entry point for the auditctl binary.
package main

import (
	"os"

	"policyaudit/pkg/auditcli"
)

func main() {
	os.Exit(auditcli.Execute())
}
