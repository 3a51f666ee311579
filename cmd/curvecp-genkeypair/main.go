// Command curvecp-genkeypair prints a fresh Curve25519 keypair.
package main

import (
	"fmt"
	"os"

	"github.com/Rudd-O/curvecp/vault"
)

func main() {
	priv, pub, err := vault.GenerateKeyPair()
	if err != nil {
		fmt.Fprintln(os.Stderr, "curvecp-genkeypair:", err)
		os.Exit(1)
	}
	fmt.Println(priv.String())
	fmt.Println(pub.String())
}
