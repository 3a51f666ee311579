// Command curvecp-client connects to a curvecp-server, sends one
// message per line of stdin, and prints each echoed reply.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Rudd-O/curvecp"
	"github.com/Rudd-O/curvecp/vault"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:4343", "server address")
	serverKey := flag.String("server-key", "", "server's long-term public key, as printed by curvecp-server")
	flag.Parse()

	if *serverKey == "" {
		fmt.Fprintln(os.Stderr, "curvecp-client: -server-key is required")
		os.Exit(1)
	}
	pub, err := vault.PublicKeyFromString(*serverKey)
	if err != nil {
		fmt.Fprintln(os.Stderr, "curvecp-client:", err)
		os.Exit(1)
	}

	c, err := curvecp.Connect(context.Background(), "tcp", *addr, curvecp.WithPeerPublicKey(pub))
	if err != nil {
		fmt.Fprintln(os.Stderr, "curvecp-client:", err)
		os.Exit(1)
	}
	defer c.Close()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := c.Send(scanner.Bytes()); err != nil {
			fmt.Fprintln(os.Stderr, "curvecp-client: send:", err)
			return
		}
		reply, err := c.Recv(context.Background())
		if err != nil {
			fmt.Fprintln(os.Stderr, "curvecp-client: recv:", err)
			return
		}
		fmt.Println(string(reply))
	}
}
