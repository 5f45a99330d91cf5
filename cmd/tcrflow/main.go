// cmd/tcrflow/main.go
package main

import (
	"tcrflow/internal/app"
	"tcrflow/internal/appshell"
)

func main() {
	appshell.Main(app.RunContext)
}
