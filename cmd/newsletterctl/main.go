// Command newsletterctl runs operator tasks against the newsletter database.
package main

import (
	"fmt"
	"os"

	"github.com/unclebandit/newsletter-backend/cmd/newsletterctl/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
