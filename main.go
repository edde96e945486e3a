/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "quakenotify/cmd"

func main() {
	cmd.Execute()
}
