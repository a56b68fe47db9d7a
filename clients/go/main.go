// Command relay is a command line client for the chat relay.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/Jacobpac15/chatapp-parcial3/clients/go/relay"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := relay.NewClient(os.Getenv("RELAY_URL"))
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "register", "login":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "Usage: relay %s <username> <password>\n", cmd)
			os.Exit(1)
		}
		var (
			user *relay.User
			err  error
		)
		if cmd == "register" {
			user, err = client.Register(args[0], args[1])
		} else {
			user, err = client.Login(args[0], args[1])
		}
		exitOnError(err)
		exitOnError(client.SaveConfig())
		fmt.Printf("Logged in as %s (id %d)\n", user.Username, user.ID)

	case "rooms", "discover":
		var (
			rooms []relay.Room
			err   error
		)
		if cmd == "rooms" {
			rooms, err = client.Rooms()
		} else {
			rooms, err = client.Discover()
		}
		exitOnError(err)
		for _, room := range rooms {
			flags := ""
			if room.IsPrivate {
				flags += " [private]"
			}
			if room.IsMember {
				flags += " [member]"
			}
			fmt.Printf("  %4d  %s%s\n", room.ID, room.Name, flags)
		}

	case "create":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: relay create <name> [access_code]")
			os.Exit(1)
		}
		code := ""
		if len(args) > 1 {
			code = args[1]
		}
		room, err := client.CreateRoom(args[0], code)
		exitOnError(err)
		fmt.Printf("Created room %d: %s\n", room.ID, room.Name)

	case "join":
		roomID, code := roomArgs(args, "join <room_id> [access_code]")
		exitOnError(client.JoinRoom(roomID, code))
		fmt.Printf("Joined room %d\n", roomID)

	case "history":
		roomID, _ := roomArgs(args, "history <room_id>")
		page, err := client.Messages(roomID, 1, 20)
		exitOnError(err)
		for i := len(page.Data) - 1; i >= 0; i-- {
			msg := page.Data[i]
			fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Local().Format("2006-01-02 15:04:05"), msg.Username, msg.Content)
		}

	case "chat":
		roomID, code := roomArgs(args, "chat <room_id> [access_code]")
		exitOnError(chat(client, roomID, code))

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// chat joins a room, prints incoming frames and sends each stdin line.
func chat(client *relay.Client, roomID int64, code string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	stream, err := client.Connect(dialCtx)
	cancel()
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := stream.Join(roomID, code); err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		for {
			frame, err := stream.Next()
			if err != nil {
				errc <- err
				return
			}
			printFrame(frame)
		}
	}()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if line := scanner.Text(); line != "" {
				if err := stream.Send(roomID, line); err != nil {
					errc <- err
					return
				}
			}
		}
		_ = stream.Leave(roomID)
		stop()
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return err
	}
}

func printFrame(f relay.Frame) {
	switch f.Type {
	case "message":
		fmt.Printf("[%s] %s: %s\n", f.Timestamp.Local().Format("15:04:05"), f.User.Username, f.Content)
	case "room_joined":
		fmt.Printf("* joined %s\n", f.Room.Name)
	case "user_joined":
		fmt.Printf("* %s joined\n", f.User.Username)
	case "user_left":
		fmt.Printf("* %s left\n", f.User.Username)
	case "error":
		fmt.Printf("! %s\n", f.Message)
	}
}

func roomArgs(args []string, usageLine string) (int64, string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: relay "+usageLine)
		os.Exit(1)
	}
	roomID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || roomID <= 0 {
		fmt.Fprintf(os.Stderr, "Invalid room id: %s\n", args[0])
		os.Exit(1)
	}
	code := ""
	if len(args) > 1 {
		code = args[1]
	}
	return roomID, code
}

func usage() {
	fmt.Println(`relay - chat relay command line client

Usage: relay <command> [options]

Commands:
  register <user> <password>     Create an account and save its token
  login <user> <password>        Log in and save the token
  rooms                          List rooms you can enter
  discover                       List all rooms
  create <name> [access_code]    Create a room (private with a code)
  join <room> [access_code]      Become a member of a room
  history <room>                 Show recent messages
  chat <room> [access_code]      Live chat; each stdin line is sent
  health                         Check server health

Environment:
  RELAY_URL      Server URL (default: http://localhost:8080)
  RELAY_CONFIG   Config directory (default: ~/.chat-relay)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
