// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Command wssec applies and verifies WS-Security on SOAP messages.
package main

import "github.com/sirosfoundation/go-wss/internal/cli"

func main() {
	cli.Execute()
}
