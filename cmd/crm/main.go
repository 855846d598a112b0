package main

import "github.com/goliatone/go-crmauth/cmd/crm/cmd"

func main() {
	cmd.Execute()
}
