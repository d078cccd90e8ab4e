package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/attest-dev/attest-ledger/pkg/schema"
	"github.com/attest-dev/attest-ledger/pkg/sdk"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	client, err := sdk.New(os.Getenv("ATTEST_DB"))
	if err != nil {
		log.Fatalf("Failed to initialize ledger client: %v", err)
	}
	defer client.Close()

	client.SetAgentKey(os.Getenv("ATTEST_AGENT_KEY"))
	client.SetWriteKey(os.Getenv("ATTEST_WRITE_KEY"))

	command := strings.ToUpper(os.Args[1])
	args := os.Args[2:]

	switch command {
	case "REGISTER":
		if len(args) < 1 {
			log.Fatal("Usage: attest REGISTER <username>")
		}
		agent, err := client.Register(args[0])
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Registered %s\n", agent.Username)
		fmt.Printf("Agent key (store this, it is shown only once): %s\n", agent.Key)

	case "SUBMIT":
		if len(args) < 4 {
			log.Fatal("Usage: attest SUBMIT <domain> <object> <claim> <confidence> [context]")
		}
		entry := schema.EntryInput{
			Domain:     args[0],
			Object:     args[1],
			Claim:      args[2],
			Confidence: args[3],
		}
		if len(args) > 4 {
			entry.Context = args[4]
		}
		status, err := client.Submit(entry)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("OK (%d used today, %d remaining)\n", status.Used, status.Remaining)

	case "ENTRIES":
		limit := 0
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				log.Fatalf("Invalid limit: %q", args[0])
			}
			limit = n
		}
		entries, err := client.Entries(limit)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(entries)

	case "AGENTS":
		agents, err := client.Agents()
		if err != nil {
			log.Fatal(err)
		}
		printJSON(agents)

	case "WHOAMI":
		status, err := client.WhoAmI()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s: %d used today, %d remaining\n", status.Username, status.Used, status.Remaining)

	case "PING":
		if _, err := client.Agents(); err != nil {
			log.Fatal(err)
		}
		fmt.Println("PONG")

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func printUsage() {
	fmt.Println("Attest CLI - Interface for the attest ledger")
	fmt.Println("\nUsage:")
	fmt.Println("  attest REGISTER <username>")
	fmt.Println("  attest SUBMIT <domain> <object> <claim> <confidence> [context]")
	fmt.Println("  attest ENTRIES [limit]")
	fmt.Println("  attest AGENTS")
	fmt.Println("  attest WHOAMI")
	fmt.Println("  attest PING")
	fmt.Println("\nEnvironment Variables:")
	fmt.Println("  ATTEST_LEDGER_ADDR    Address of a remote daemon (default: embedded mode)")
	fmt.Println("  ATTEST_DB             Database path for embedded mode (default: attest.db)")
	fmt.Println("  ATTEST_AGENT_KEY      Agent credential for SUBMIT and WHOAMI")
	fmt.Println("  ATTEST_WRITE_KEY      Admin override secret")
	fmt.Println("  ATTEST_DISABLE_TLS    Set to true to talk plain HTTP to a remote daemon")
}

func printJSON(v any) {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(bytes))
}
