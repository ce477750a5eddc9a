package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"konnekt-chat/internal"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

type Config struct {
	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/badger"`
}

// inspect dumps the message store of a dev server as a table. It opens the
// database read-only so it can run next to the server.
func main() {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(2)
	}
	dbPath := flag.String("db", config.BadgerFilepath, "Path to badger DB")
	prefix := flag.String("prefix", internal.MessagePrefix, "Prefix to scan, e.g. msg:u1_u2:")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error while opening Badger: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	rows, err := internal.ScanRows(db, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scan failed: %v\n", err)
		os.Exit(1)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Chat", "Time", "ID", "From", "To", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.AppendBulk(lo.Map(rows, func(row internal.InspectRow, _ int) []string {
		return []string{row.Key, row.Chat, row.Timestamp, row.EntityID, row.Sender, row.Recipient, row.Detail}
	}))
	table.Render()
	fmt.Printf("%d entries under %q\n", len(rows), *prefix)
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err != nil && strings.Contains(err.Error(), "Log truncate required") {
		return nil, fmt.Errorf("%w (stop the server once so it can truncate its value log)", err)
	}
	return db, err
}
