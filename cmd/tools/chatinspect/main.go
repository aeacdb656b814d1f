package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/config"
	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
	"github.com/zhouzirui/pairchat/backend/internal/store"
)

func main() {
	_ = godotenv.Load()

	driver := flag.String("driver", envOr("STORE_DRIVER", config.DriverSQLite), "store driver: sqlite, postgres or badger")
	sqlitePath := flag.String("sqlite", envOr("SQLITE_PATH", "pairchat.db"), "sqlite database path")
	dbURL := flag.String("db-url", os.Getenv("DB_URL"), "postgres connection string")
	badgerPath := flag.String("badger", envOr("BADGER_PATH", "data/badger"), "badger directory")
	userA := flag.String("a", "", "first participant of the conversation to print")
	userB := flag.String("b", "", "second participant of the conversation to print")
	unread := flag.String("unread", "", "print the pending backlog of this user instead")
	flag.Parse()

	if *unread == "" && (*userA == "" || *userB == "") {
		log.Fatal("use -a and -b to print a conversation, or -unread to print a backlog")
	}

	ctx := context.Background()
	st, err := store.Open(ctx, config.StoreConfig{
		Driver:      *driver,
		SQLitePath:  *sqlitePath,
		PostgresDSN: *dbURL,
		BadgerPath:  *badgerPath,
	}, zap.NewNop())
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	var (
		messages []chat.Message
		title    string
	)
	if *unread != "" {
		messages, err = st.Unread(ctx, *unread)
		title = fmt.Sprintf("backlog of %s", *unread)
	} else {
		messages, err = st.History(ctx, *userA, *userB)
		title = fmt.Sprintf("conversation %s", chat.RoomKey(*userA, *userB))
	}
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%s: %s messages\n", title, humanize.Comma(int64(len(messages))))
	render(os.Stdout, messages)
}

func render(w io.Writer, messages []chat.Message) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Sent", "From", "To", "Read", "Message"})
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

	for _, m := range messages {
		id := m.ID
		if len(id) > 8 {
			id = id[:8]
		}
		read := "no"
		if m.IsRead {
			read = "yes"
		}
		table.Append([]string{
			id,
			humanize.Time(m.Timestamp),
			m.Sender,
			m.Receiver,
			read,
			strings.ReplaceAll(m.Body, "\n", " "),
		})
	}
	table.Render()
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
