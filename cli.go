package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"conchat/internal/store"
)

// RunCLI handles admin subcommand execution. Returns true if a subcommand
// was handled.
func RunCLI(args []string) bool {
	if len(args) == 0 {
		return false
	}

	fs := flag.NewFlagSet("conchat", flag.ExitOnError)
	dbPath := fs.String("db", "conchat.db", "SQLite database path")

	subcmd := args[0]
	_ = fs.Parse(args[1:])
	rest := fs.Args()

	switch subcmd {
	case "version":
		fmt.Printf("conchat server %s\n", Version)
		return true
	case "status":
		return cliStatus(*dbPath)
	case "rooms":
		return cliRooms(rest, *dbPath)
	case "backup":
		return cliBackup(rest, *dbPath)
	default:
		return false
	}
}

func openStore(dbPath string) *store.Store {
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	return st
}

func cliStatus(dbPath string) bool {
	st := openStore(dbPath)
	defer st.Close()

	users, rooms, messages, err := st.Counts(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Users: %d\n", users)
	fmt.Printf("Rooms: %d\n", rooms)
	fmt.Printf("Messages: %d\n", messages)
	fmt.Printf("Version: %s\n", Version)
	return true
}

func cliRooms(args []string, dbPath string) bool {
	st := openStore(dbPath)
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		rooms, err := st.RoomList(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(rooms) == 0 {
			fmt.Println("No rooms found.")
			return true
		}
		for _, r := range rooms {
			fmt.Printf("  [%s] %s\n", r.ID, r.Name)
		}
		return true
	}

	if args[0] == "create" && len(args) > 1 {
		name := args[1]
		room, err := st.InsertRoom(context.Background(), name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error creating room: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created room %q (id=%s)\n", room.Name, room.ID)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: conchat rooms [list|create <name>]\n")
	os.Exit(1)
	return true
}

func cliBackup(args []string, dbPath string) bool {
	st := openStore(dbPath)
	defer st.Close()

	outPath := "conchat-backup.db"
	if len(args) > 0 {
		outPath = args[0]
	}

	if err := st.Backup(outPath); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Database backed up to %s\n", outPath)
	return true
}
