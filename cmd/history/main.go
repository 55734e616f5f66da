// Command history prints the messages of a chat saved in the local cache.
package main

import (
	"athena/internal/config"
	"athena/internal/storage"
	"fmt"
	"os"
	"strconv"
)

func main() {
	if len(os.Args) < 2 || len(os.Args) > 3 {
		fmt.Println("Usage: history <chat id> [limit]")
		os.Exit(1)
	}

	chatID, err := strconv.ParseInt(os.Args[1], 10, 64)
	if err != nil {
		fmt.Printf("Invalid chat id: %v\n", err)
		os.Exit(1)
	}
	limit := 0
	if len(os.Args) == 3 {
		if limit, err = strconv.Atoi(os.Args[2]); err != nil {
			fmt.Printf("Invalid limit: %v\n", err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	db, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		fmt.Printf("Error opening %s: %v\n", cfg.DBFile, err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	msgs, err := db.ListMessages(chatID, limit)
	if err != nil {
		fmt.Printf("Error reading history: %v\n", err)
		return
	}
	for _, m := range msgs {
		fmt.Printf("%s  %-20s %s\n", m.SentAt.Local().Format("2006-01-02 15:04"), m.SenderName, m.Content)
		for _, a := range m.Attachments {
			fmt.Printf("%18s [file] %s (%s)\n", "", a.Name, a.MimeType)
		}
	}

	uploads, err := db.ListUploads(chatID)
	if err == nil && len(uploads) > 0 {
		fmt.Printf("\n%d file(s) sent from this device\n", len(uploads))
	}
}
