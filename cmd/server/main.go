package main

import "traindesk/internal/app/server"

func main() {
	server.Run()
}
