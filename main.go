package main

import "subaru/internal/subaru"

func main() {
	subaru.Main()
}
