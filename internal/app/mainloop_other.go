//go:build !darwin

package app

func runMain(fn func()) { fn() }
