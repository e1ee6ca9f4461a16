package main

import "context"

func main() {
	app := mustBootstrapBot()
	defer app.Close()

	if err := app.Run(); err != nil && err != context.Canceled {
		panic(err)
	}
}
