package main

import "supplybot/internal/app"

func main() {
	app.Main()
}
