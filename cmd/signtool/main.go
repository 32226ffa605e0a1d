package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ceroxe/paywatch/internal/notify"
)

// signtool computes the callback signature for a set of key=value
// parameters, for debugging receivers that reject a signed callback.
func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: signtool <secret> key=value [key=value ...]")
		fmt.Println("Prints the signature a callback with those parameters carries.")
		os.Exit(1)
	}

	secret := os.Args[1]
	params := make(map[string]string)
	for _, arg := range os.Args[2:] {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			fmt.Printf("invalid parameter %q, want key=value\n", arg)
			os.Exit(1)
		}
		params[k] = v
	}

	fmt.Printf("sign=%s\n", notify.Sign(params, secret))
}
