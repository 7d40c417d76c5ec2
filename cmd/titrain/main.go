package main

import (
	wrapper "titrain-wrapper/internal/app"
)

func main() {
	wrapper.Main()
}
