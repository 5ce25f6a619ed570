package main

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/allaspectsdev/mlxd/internal/auth"
)

// cmdAuth manages the single bearer token that guards the HTTP surface.
func cmdAuth(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: mlxd auth <set|get|delete|generate>")
		os.Exit(1)
	}

	store := auth.New()

	switch args[0] {
	case "set":
		fmt.Print("Enter bearer token: ")
		tok, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading token: %v\n", err)
			os.Exit(1)
		}
		if err := store.Set(string(tok)); err != nil {
			fmt.Fprintf(os.Stderr, "error storing token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Token stored in the OS keychain.")

	case "get":
		tok, err := store.Get()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(tok)

	case "delete":
		if err := store.Delete(); err != nil {
			fmt.Fprintf(os.Stderr, "error deleting token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Token deleted.")

	case "generate":
		tok, err := auth.Generate()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error generating token: %v\n", err)
			os.Exit(1)
		}
		if err := store.Set(tok); err != nil {
			fmt.Fprintf(os.Stderr, "error storing token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Generated and stored token:\n%s\n", tok)

	default:
		fmt.Fprintf(os.Stderr, "unknown auth command: %s\n", args[0])
		os.Exit(1)
	}
}
